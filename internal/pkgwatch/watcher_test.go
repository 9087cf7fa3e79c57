package pkgwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingReloader struct {
	calls atomic.Int32
	err   error
}

func (r *countingReloader) Reload() error {
	r.calls.Add(1)
	return r.err
}

func startWatcher(t *testing.T, reloader Reloader, onChange ChangeHandler) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "packages.yaml")
	if err := os.WriteFile(path, []byte("packages: []\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	w, err := New(Options{Path: path, Debounce: 100 * time.Millisecond, Reloader: reloader, OnChange: onChange})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w, path
}

func TestNewRequiresPathAndReloader(t *testing.T) {
	if _, err := New(Options{Reloader: &countingReloader{}}); err == nil {
		t.Fatalf("expected missing path error")
	}
	if _, err := New(Options{Path: "packages.yaml"}); err == nil {
		t.Fatalf("expected missing reloader error")
	}
}

func TestWatcherCoalescesBurstIntoOneRebuild(t *testing.T) {
	changed := make(chan struct{}, 8)
	reloader := &countingReloader{}
	w, path := startWatcher(t, reloader, func(ctx context.Context) error {
		changed <- struct{}{}
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("packages: []\n# edit\n"), 0o600); err != nil {
			t.Fatalf("rewrite catalog: %v", err)
		}
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for package change")
	}
	select {
	case <-changed:
		t.Fatalf("expected a single rebuild for one burst")
	case <-time.After(300 * time.Millisecond):
	}
	if reloader.calls.Load() != 1 || w.Changes() != 1 {
		t.Fatalf("expected one reload, got %d/%d", reloader.calls.Load(), w.Changes())
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	changed := make(chan struct{}, 1)
	_, path := startWatcher(t, &countingReloader{}, func(ctx context.Context) error {
		changed <- struct{}{}
		return nil
	})
	sibling := filepath.Join(filepath.Dir(path), "notes.txt")
	if err := os.WriteFile(sibling, []byte("x"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case <-changed:
		t.Fatalf("expected sibling edits to be ignored")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherSkipsRebuildWhenReloadFails(t *testing.T) {
	changed := make(chan struct{}, 1)
	reloader := &countingReloader{err: errors.New("yaml: line 2: mapping values are not allowed")}
	w, path := startWatcher(t, reloader, func(ctx context.Context) error {
		changed <- struct{}{}
		return nil
	})
	if err := os.WriteFile(path, []byte("packages: : :\n"), 0o600); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for reloader.calls.Load() == 0 {
		select {
		case <-changed:
			t.Fatalf("expected no rebuild after a failed reload")
		case <-deadline:
			t.Fatalf("timed out waiting for reload attempt")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if w.Changes() != 0 {
		t.Fatalf("expected no counted change, got %d", w.Changes())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, _ := startWatcher(t, &countingReloader{}, nil)
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.IsRunning() {
		t.Fatalf("expected watcher stopped")
	}
	_ = w.Stop()
}
