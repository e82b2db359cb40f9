package matcher

import (
	"time"
	"unicode/utf8"
)

const (
	root   int32 = 0
	noWord int32 = -1
	noNode int32 = -1
)

// node is one trie state. Children are owned through the arena; fail and out are plain
// indices into the same arena and never imply ownership.
type node struct {
	next map[rune]int32
	fail int32
	word int32 // index into Automaton.terms, noWord if not terminal
	out  int32 // nearest terminal node on the failure chain, noNode if none
}

// Automaton is an immutable Aho-Corasick matcher. It is safe for concurrent use.
type Automaton struct {
	nodes       []node
	terms       []string
	termRunes   []int
	fingerprint string
	buildTime   time.Duration
}

// Build compiles ps into an automaton. An empty set yields a zero-pattern automaton
// that passes every text.
func Build(ps PatternSet) *Automaton {
	start := time.Now()
	a := &Automaton{
		nodes:       []node{{fail: root, word: noWord, out: noNode}},
		terms:       make([]string, 0, ps.Len()),
		termRunes:   make([]int, 0, ps.Len()),
		fingerprint: ps.Fingerprint(),
	}
	for _, t := range ps.terms {
		a.insert(t)
	}
	a.link()
	a.buildTime = time.Since(start)
	return a
}

// Empty returns a zero-pattern automaton.
func Empty() *Automaton { return Build(PatternSet{}) }

func (a *Automaton) insert(term string) {
	if term == "" {
		return
	}
	cur := root
	for _, r := range term {
		nxt, ok := a.nodes[cur].next[r]
		if !ok {
			nxt = int32(len(a.nodes))
			a.nodes = append(a.nodes, node{fail: root, word: noWord, out: noNode})
			if a.nodes[cur].next == nil {
				a.nodes[cur].next = make(map[rune]int32)
			}
			a.nodes[cur].next[r] = nxt
		}
		cur = nxt
	}
	if a.nodes[cur].word != noWord {
		return
	}
	a.nodes[cur].word = int32(len(a.terms))
	a.terms = append(a.terms, term)
	a.termRunes = append(a.termRunes, utf8.RuneCountInString(term))
}

// link computes failure and output links breadth-first, so every node's failure
// target (strictly shallower) is final before the node itself is processed.
func (a *Automaton) link() {
	queue := make([]int32, 0, len(a.nodes))
	for _, child := range a.nodes[root].next {
		a.nodes[child].fail = root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for r, child := range a.nodes[n].next {
			f := a.nodes[n].fail
			for f != root && !a.hasEdge(f, r) {
				f = a.nodes[f].fail
			}
			if t, ok := a.nodes[f].next[r]; ok && t != child {
				a.nodes[child].fail = t
			} else {
				a.nodes[child].fail = root
			}
			fail := a.nodes[child].fail
			if a.nodes[fail].word != noWord {
				a.nodes[child].out = fail
			} else {
				a.nodes[child].out = a.nodes[fail].out
			}
			queue = append(queue, child)
		}
	}
}

func (a *Automaton) hasEdge(n int32, r rune) bool {
	_, ok := a.nodes[n].next[r]
	return ok
}

// step advances from cur on r, following failure links on a miss.
func (a *Automaton) step(cur int32, r rune) int32 {
	for cur != root && !a.hasEdge(cur, r) {
		cur = a.nodes[cur].fail
	}
	if nxt, ok := a.nodes[cur].next[r]; ok {
		return nxt
	}
	return root
}

// firstTerminal returns cur if it ends a term, else the nearest terminal on its
// failure chain, or noNode.
func (a *Automaton) firstTerminal(cur int32) int32 {
	if a.nodes[cur].word != noWord {
		return cur
	}
	return a.nodes[cur].out
}

// PatternCount returns the number of distinct terms compiled into the automaton.
func (a *Automaton) PatternCount() int { return len(a.terms) }

// NodeCount returns the number of trie states including the root.
func (a *Automaton) NodeCount() int { return len(a.nodes) }

// Fingerprint identifies the term set the automaton was built from.
func (a *Automaton) Fingerprint() string { return a.fingerprint }

// BuildDuration is the wall time spent in Build.
func (a *Automaton) BuildDuration() time.Duration { return a.buildTime }
