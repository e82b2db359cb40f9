package wordstore

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherCoalescesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terms.json")
	if err := WriteTermFile(path, nil); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var fired atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) { fired.Add(1) })
	}()

	for i := 0; i < 3; i++ {
		if err := WriteTermFile(path, []Entry{{ID: "1", Term: "x", HarmLevel: 1, Enabled: true}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatalf("change was not reported")
	}
	time.Sleep(200 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("burst should coalesce into one callback, got %d", n)
	}
	cancel()
	<-done
}

func TestWatcherMissingPath(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0); err == nil {
		t.Fatalf("expected error for missing path")
	}
}
