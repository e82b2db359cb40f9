package wordstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process store, used for tests and ephemeral deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
	inst    instruments
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now, inst: newInstruments("memory")}
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	defer m.inst.read(ctx, "list", time.Now())
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) ListEnabledTerms(ctx context.Context) ([]string, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledTerms(entries), nil
}

func (m *Memory) Put(ctx context.Context, e Entry) (Entry, error) {
	defer m.inst.write(ctx, "put", time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make([]Entry, 0, len(m.entries))
	for _, cur := range m.entries {
		existing = append(existing, cur)
	}
	e, err := prepare(existing, e, m.now())
	if err != nil {
		return Entry{}, err
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *Memory) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer m.inst.write(ctx, "set_enabled", time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Enabled = enabled
	e.UpdatedAt = m.now().UTC()
	m.entries[id] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	defer m.inst.write(ctx, "delete", time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Close() error { return nil }
