package wordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketTerms = []byte("terms")

// BoltStore keeps entries in a BoltDB file, one JSON value per ID in bucket "terms".
type BoltStore struct {
	db   *bbolt.DB
	now  func() time.Time
	inst instruments
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTerms)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now, inst: newInstruments("bolt")}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) List(ctx context.Context) ([]Entry, error) {
	defer s.inst.read(ctx, "list", time.Now())
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = boltEntries(tx.Bucket(bucketTerms))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	sortEntries(out)
	return out, nil
}

func (s *BoltStore) ListEnabledTerms(ctx context.Context) ([]string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledTerms(entries), nil
}

// Put validates and uniqueness-checks e inside the same write transaction.
func (s *BoltStore) Put(ctx context.Context, e Entry) (Entry, error) {
	defer s.inst.write(ctx, "put", time.Now())
	var stored Entry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTerms)
		existing, err := boltEntries(b)
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
		return b.Put([]byte(stored.ID), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("put term: %w", err)
	}
	return stored, nil
}

func (s *BoltStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer s.inst.write(ctx, "set_enabled", time.Now())
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTerms)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		e.Enabled = enabled
		e.UpdatedAt = s.now().UTC()
		out, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	defer s.inst.write(ctx, "delete", time.Now())
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTerms)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}

func boltEntries(b *bbolt.Bucket) ([]Entry, error) {
	var out []Entry
	err := b.ForEach(func(k, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
