package wordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var badgerPrefix = []byte("term/")

// BadgerStore keeps entries in BadgerDB under keys "term/<id>".
type BadgerStore struct {
	db   *badger.DB
	now  func() time.Time
	inst instruments
}

// OpenBadger opens or creates a badger directory at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now, inst: newInstruments("badger")}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(id string) []byte { return append(append([]byte{}, badgerPrefix...), id...) }

func (s *BadgerStore) List(ctx context.Context) ([]Entry, error) {
	defer s.inst.read(ctx, "list", time.Now())
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = badgerEntries(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	sortEntries(out)
	return out, nil
}

func (s *BadgerStore) ListEnabledTerms(ctx context.Context) ([]string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledTerms(entries), nil
}

// Put runs the uniqueness check and the write in one transaction; a concurrent
// writer touching the same keys makes the commit fail with a conflict.
func (s *BadgerStore) Put(ctx context.Context, e Entry) (Entry, error) {
	defer s.inst.write(ctx, "put", time.Now())
	var stored Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := badgerEntries(txn)
		if err != nil {
			return err
		}
		stored, err = prepare(existing, e, s.now())
		if err != nil {
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(stored.ID), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("put term: %w", err)
	}
	return stored, nil
}

func (s *BadgerStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer s.inst.write(ctx, "set_enabled", time.Now())
	err := s.db.Update(func(txn *badger.Txn) error {
		e, err := badgerGet(txn, id)
		if err != nil {
			return err
		}
		e.Enabled = enabled
		e.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	defer s.inst.write(ctx, "delete", time.Now())
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := badgerGet(txn, id); err != nil {
			return err
		}
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}

func badgerGet(txn *badger.Txn, id string) (Entry, error) {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func badgerEntries(txn *badger.Txn) ([]Entry, error) {
	opt := badger.DefaultIteratorOptions
	opt.Prefix = badgerPrefix
	it := txn.NewIterator(opt)
	defer it.Close()
	var out []Entry
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		out = append(out, e)
	}
	return out, nil
}
