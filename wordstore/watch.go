package wordstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into one refresh.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to a term file or directory.
type Watcher struct {
	fw       *fsnotify.Watcher
	match    func(name string) bool
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher starts watching path. For a single file the parent directory is
// watched so atomic rename-on-save is seen.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	dir := path
	match := func(name string) bool { return isTermFile(filepath.Base(name)) }
	if !info.IsDir() {
		dir = filepath.Dir(path)
		base := filepath.Base(path)
		match = func(name string) bool { return filepath.Base(name) == base }
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		fw:       fw,
		match:    match,
		debounce: debounce,
		log:      slog.Default().With("component", "term-watcher", "path", path),
	}, nil
}

// Run calls onChange once per burst of relevant events until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer w.fw.Close()
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || !w.match(ev.Name) {
				continue
			}
			w.log.Debug("term source changed", "file", ev.Name, "op", ev.Op.String())
			pending = time.After(w.debounce)
		case <-pending:
			pending = nil
			onChange(ctx)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}
