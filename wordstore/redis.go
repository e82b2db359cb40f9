package wordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding all entries, field = entry ID.
const DefaultRedisKey = "termguard:terms"

// RedisOptions configure the redis driver.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps entries in one redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
	inst   instruments
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	if o.Key == "" {
		o.Key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", o.Addr, err)
	}
	return &RedisStore{client: client, key: o.Key, now: time.Now, inst: newInstruments("redis")}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	defer s.inst.read(ctx, "list", time.Now())
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	out, err := decodeRedisEntries(raw)
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func (s *RedisStore) ListEnabledTerms(ctx context.Context) ([]string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledTerms(entries), nil
}

// Put watches the hash so a concurrent writer aborts the transaction instead of
// slipping a duplicate past the uniqueness check.
func (s *RedisStore) Put(ctx context.Context, e Entry) (Entry, error) {
	defer s.inst.write(ctx, "put", time.Now())
	var stored Entry
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, s.key).Result()
		if err != nil {
			return err
		}
		existing, err := decodeRedisEntries(raw)
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
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key, stored.ID, data)
			return nil
		})
		return err
	}, s.key)
	if err != nil {
		return Entry{}, fmt.Errorf("put term: %w", err)
	}
	return stored, nil
}

func (s *RedisStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer s.inst.write(ctx, "set_enabled", time.Now())
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.HGet(ctx, s.key, id).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return err
		}
		e.Enabled = enabled
		e.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key, id, data)
			return nil
		})
		return err
	}, s.key)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	defer s.inst.write(ctx, "delete", time.Now())
	n, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete term: %w: %s", ErrNotFound, id)
	}
	return nil
}

func decodeRedisEntries(raw map[string]string) ([]Entry, error) {
	out := make([]Entry, 0, len(raw))
	for id, val := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, nil
}
