package wordstore

import (
	"context"
	"fmt"
)

// Options select and configure a driver.
type Options struct {
	Driver string // file, bolt, badger, redis, memory
	Path   string
	Redis  RedisOptions
}

// Drivers lists the accepted Options.Driver values.
var Drivers = []string{"file", "bolt", "badger", "redis", "memory"}

// Open returns the configured store. Callers type-assert to Writer for mutations.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Driver {
	case "file":
		if o.Path == "" {
			return nil, fmt.Errorf("file driver: path is required")
		}
		return NewFileStore(o.Path), nil
	case "bolt":
		if o.Path == "" {
			return nil, fmt.Errorf("bolt driver: path is required")
		}
		s, err := OpenBolt(o.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		if o.Path == "" {
			return nil, fmt.Errorf("badger driver: path is required")
		}
		s, err := OpenBadger(o.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := OpenRedis(ctx, o.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", o.Driver)
	}
}

// AsWriter returns s as a Writer, or ErrReadOnly.
func AsWriter(s Store) (Writer, error) {
	w, ok := s.(Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	return w, nil
}
