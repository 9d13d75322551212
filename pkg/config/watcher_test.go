package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hub.yaml", "servers:\n  - id: a\n")

	changes := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	w.debounce = 50 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Unrelated files are ignored.
	writeFile(t, dir, "notes.txt", "hello")

	// An invalid file keeps the last good config.
	if err := os.WriteFile(path, []byte("servers:\n  - id: a\n  - id: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c)
	default:
	}

	if err := os.WriteFile(path, []byte("servers:\n  - id: a\n  - id: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if len(c.Servers) != 2 || c.Servers[1].ID != "b" {
			t.Errorf("reloaded config: %+v", c.Servers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatcher_ReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hub.json", `{"servers":[{"id":"a"}]}`)

	changes := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	w.debounce = 50 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tmp := writeFile(t, dir, "hub.json.tmp", `{"servers":[{"id":"z"}]}`)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Servers[0].ID != "z" {
			t.Errorf("got %+v", c.Servers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename")
	}
}

func TestWatcher_StartMissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "hub.yaml"), func(*Config) {}, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Error("expected an error for a missing directory")
	}
	w.Stop()
}

func TestWatcher_ReloadsDoNotOverlap(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hub.yaml", "servers:\n  - id: a\n")

	var active, peak, calls atomic.Int32
	w := NewWatcher(path, func(*Config) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		calls.Add(1)
	}, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.fire(context.Background())
		}()
	}
	wg.Wait()

	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
	if peak.Load() != 1 {
		t.Errorf("%d reloads ran at once", peak.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.fire(ctx)
	if calls.Load() != 4 {
		t.Error("a reload ran after the watcher stopped")
	}
}
