// Package matcher implements the term-matching engine: a normalized PatternSet and an
// immutable Aho-Corasick Automaton that finds every dictionary term in a text in a
// single pass. Matching is case-insensitive substring matching over per-rune
// lower-cased text; no other normalization is applied.
package matcher
