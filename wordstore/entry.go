// Package wordstore persists the sensitive-term dictionary and exposes the enabled
// terms to the snapshot cache. Drivers: file (read-only JSON), bolt, badger, redis
// and an in-process memory store.
package wordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/swarmguard/termguard/matcher"
)

// MaxTermLength is the longest term accepted, in runes.
const MaxTermLength = 100

var (
	ErrNotFound      = errors.New("wordstore: entry not found")
	ErrInvalidEntry  = errors.New("wordstore: invalid entry")
	ErrDuplicateTerm = errors.New("wordstore: duplicate term")
	ErrReadOnly      = errors.New("wordstore: store is read-only")
)

// Entry is one dictionary record. Only enabled entries reach the matcher.
type Entry struct {
	ID        string    `json:"id"`
	Term      string    `json:"term"`
	HarmLevel int       `json:"harm_level"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the term and harm level.
func (e Entry) Validate() error {
	term := strings.TrimSpace(e.Term)
	if term == "" {
		return fmt.Errorf("%w: term is empty", ErrInvalidEntry)
	}
	if n := utf8.RuneCountInString(term); n > MaxTermLength {
		return fmt.Errorf("%w: term has %d characters, max %d", ErrInvalidEntry, n, MaxTermLength)
	}
	if e.HarmLevel < 1 || e.HarmLevel > 5 {
		return fmt.Errorf("%w: harm level %d outside 1..5", ErrInvalidEntry, e.HarmLevel)
	}
	return nil
}

// Store is the read side every driver provides.
type Store interface {
	ListEnabledTerms(ctx context.Context) ([]string, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Writer is implemented by drivers that accept dictionary changes.
type Writer interface {
	Store
	// Put inserts e, or replaces the entry with the same ID. An empty ID is assigned.
	Put(ctx context.Context, e Entry) (Entry, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// prepare validates e against the current entries and fills ID, defaults and
// timestamp. Terms are unique after normalization.
func prepare(existing []Entry, e Entry, now time.Time) (Entry, error) {
	if e.HarmLevel == 0 {
		e.HarmLevel = 1
	}
	e.Term = strings.TrimSpace(e.Term)
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	key := matcher.Normalize(e.Term)
	for _, cur := range existing {
		if cur.ID != e.ID && matcher.Normalize(cur.Term) == key {
			return Entry{}, fmt.Errorf("%w: %q already stored as %s", ErrDuplicateTerm, e.Term, cur.ID)
		}
	}
	e.UpdatedAt = now.UTC()
	return e, nil
}

func enabledTerms(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Enabled {
			out = append(out, e.Term)
		}
	}
	return out
}
