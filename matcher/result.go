package matcher

// DetectionResult is the outcome of scanning one text.
type DetectionResult struct {
	Passed       bool     `json:"passed"`
	MatchedTerms []string `json:"matched_terms"`
}

// Pass is the result for text containing no terms.
func Pass() DetectionResult { return DetectionResult{Passed: true, MatchedTerms: []string{}} }

// Reject builds a failing result; an empty list still fails (used for fail-closed handling).
func Reject(terms []string) DetectionResult {
	if terms == nil {
		terms = []string{}
	}
	return DetectionResult{Passed: false, MatchedTerms: terms}
}

// HasMatches reports whether any term was detected.
func (r DetectionResult) HasMatches() bool { return len(r.MatchedTerms) > 0 }

// Match locates one occurrence of a term. Offset and Length are in bytes of the
// original, un-lowered text.
type Match struct {
	Term   string `json:"term"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}
