package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// PatternSet is a validated, deduplicated, lower-cased collection of terms.
// The zero value is an empty set.
type PatternSet struct {
	terms      []string
	empty      int
	duplicates int
	invalid    int
}

// Normalize trims s and lower-cases it rune by rune, the same folding the scan applies to text.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewPatternSet normalizes raw terms, dropping blank entries, duplicates and terms
// that are not valid UTF-8 while keeping first-seen order.
func NewPatternSet(raw []string) PatternSet {
	ps := PatternSet{terms: make([]string, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if !utf8.ValidString(r) {
			ps.invalid++
			continue
		}
		t := Normalize(r)
		if t == "" {
			ps.empty++
			continue
		}
		if _, dup := seen[t]; dup {
			ps.duplicates++
			continue
		}
		seen[t] = struct{}{}
		ps.terms = append(ps.terms, t)
	}
	return ps
}

// Len returns the number of distinct terms.
func (p PatternSet) Len() int { return len(p.terms) }

// Terms returns a copy of the terms in first-seen order.
func (p PatternSet) Terms() []string {
	out := make([]string, len(p.terms))
	copy(out, p.terms)
	return out
}

// Dropped reports how many raw entries were blank and how many were duplicates.
func (p PatternSet) Dropped() (empty, duplicates int) { return p.empty, p.duplicates }

// Invalid reports how many raw entries were dropped for not being valid UTF-8.
func (p PatternSet) Invalid() int { return p.invalid }

// Fingerprint identifies the term set independent of input order.
func (p PatternSet) Fingerprint() string {
	sorted := p.Terms()
	sort.Strings(sorted)
	return fingerprint(sorted)
}
