package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
	fail     bool
}

func (r *recorder) IngestFile(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested = append(r.ingested, path)
	if r.fail {
		return errors.New("ingest failed")
	}
	return nil
}

func (r *recorder) RemoveSource(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return nil
}

func (r *recorder) snapshot() (ingested, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ingested), slices.Clone(r.removed)
}

func txtOnly(path string) bool { return strings.EqualFold(filepath.Ext(path), ".txt") }

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func start(t *testing.T, root string, h Handler, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithFilter(txtOnly), WithDebounce(50 * time.Millisecond)}, opts...)
	w := New(root, h, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DebouncedIngest(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	start(t, dir, rec)

	path := filepath.Join(dir, "notes.txt")
	for i := 0; i < 3; i++ {
		writeFile(t, path, strings.Repeat("x", i+1))
	}
	writeFile(t, filepath.Join(dir, "skip.bin"), "binary")

	waitFor(t, func() bool {
		ingested, _ := rec.snapshot()
		return len(ingested) > 0
	})
	time.Sleep(150 * time.Millisecond)
	ingested, _ := rec.snapshot()
	if len(ingested) != 1 || ingested[0] != path {
		t.Errorf("ingested = %v, want one debounced call for %s", ingested, path)
	}
}

func TestWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	writeFile(t, path, "bye")
	rec := &recorder{}
	start(t, dir, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := rec.snapshot()
		return len(removed) == 1 && removed[0] == path
	})
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	start(t, dir, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(nested, "deep.txt")
	writeFile(t, deep, "deep content")

	waitFor(t, func() bool {
		ingested, _ := rec.snapshot()
		return slices.Contains(ingested, deep)
	})
}

func TestWatcher_NonRecursiveIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	writeFile(t, filepath.Join(sub, "inner.txt"), "inner")
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	rec := &recorder{}
	w := start(t, dir, rec, WithRecursive(false))

	w.SyncExistingFiles()
	ingested, _ := rec.snapshot()
	if len(ingested) != 1 || filepath.Base(ingested[0]) != "top.txt" {
		t.Errorf("ingested = %v, want only top.txt", ingested)
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	writeFile(t, filepath.Join(dir, "nested", "b.TXT"), "world")
	writeFile(t, filepath.Join(dir, "ignore.xyz"), "x")
	rec := &recorder{fail: true}
	w := start(t, dir, rec)

	w.SyncExistingFiles()
	ingested, _ := rec.snapshot()
	if len(ingested) != 2 {
		t.Errorf("ingested = %v, want a.txt and nested/b.TXT", ingested)
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	start(t, root, &recorder{})
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New(t.TempDir(), &recorder{})
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab/c.txt", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
