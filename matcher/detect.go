package matcher

import (
	"unicode"
	"unicode/utf8"
)

// Detect scans text once and returns every distinct term it contains, in the order
// each was first detected.
func (a *Automaton) Detect(text string) DetectionResult {
	if text == "" || len(a.terms) == 0 {
		return Pass()
	}
	var (
		matched []string
		seen    map[int32]struct{}
	)
	cur := root
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			cur = root
			continue
		}
		cur = a.step(cur, unicode.ToLower(r))
		for t := a.firstTerminal(cur); t != noNode; t = a.nodes[t].out {
			w := a.nodes[t].word
			if _, dup := seen[w]; dup {
				continue
			}
			if seen == nil {
				seen = make(map[int32]struct{})
			}
			seen[w] = struct{}{}
			matched = append(matched, a.terms[w])
		}
	}
	if len(matched) == 0 {
		return Pass()
	}
	return Reject(matched)
}

// Contains reports whether text contains any term. It stops at the first hit and
// always agrees with !Detect(text).Passed.
func (a *Automaton) Contains(text string) bool {
	if text == "" || len(a.terms) == 0 {
		return false
	}
	cur := root
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			cur = root
			continue
		}
		cur = a.step(cur, unicode.ToLower(r))
		if a.firstTerminal(cur) != noNode {
			return true
		}
	}
	return false
}

// Locate returns every occurrence of every term, overlapping ones included, ordered
// by end position and, at the same end, longest first.
func (a *Automaton) Locate(text string) []Match {
	if text == "" || len(a.terms) == 0 {
		return nil
	}
	var (
		out    []Match
		starts []int // byte offset of each rune seen so far
	)
	cur := root
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		starts = append(starts, i)
		end := i + size
		if r == utf8.RuneError && size == 1 {
			// an invalid byte never matches, not even a literal U+FFFD
			cur = root
			i = end
			continue
		}
		cur = a.step(cur, unicode.ToLower(r))
		for t := a.firstTerminal(cur); t != noNode; t = a.nodes[t].out {
			w := a.nodes[t].word
			begin := starts[len(starts)-a.termRunes[w]]
			out = append(out, Match{Term: a.terms[w], Offset: begin, Length: end - begin})
		}
		i = end
	}
	return out
}
