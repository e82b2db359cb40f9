package querycheck

import (
	"fmt"
	"strings"
)

// DetectedError is returned by Enforce when a query is rejected.
type DetectedError struct {
	Query string
	Terms []string
}

func (e *DetectedError) Error() string {
	if len(e.Terms) == 0 {
		return "query rejected: term check unavailable"
	}
	return fmt.Sprintf("query contains sensitive terms: %s", strings.Join(e.Terms, ", "))
}

// Count returns how many distinct terms were detected.
func (e *DetectedError) Count() int { return len(e.Terms) }
