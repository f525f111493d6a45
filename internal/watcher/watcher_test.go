package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/ingest"
)

const testDebounce = 50 * time.Millisecond

type recordingSink struct {
	mu        sync.Mutex
	batches   [][]string
	forgotten []string
	users     []string
}

func (s *recordingSink) Run(_ context.Context, user string, uris []string) (*ingest.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]string(nil), uris...))
	s.users = append(s.users, user)
	return &ingest.Report{Indexed: len(uris)}, nil
}

func (s *recordingSink) Forget(_ context.Context, _ string, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, uri)
	return nil
}

func (s *recordingSink) ingested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) forgot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forgotten...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, sink Sink, cfg Config) *Watcher {
	t.Helper()
	cfg.Debounce = testDebounce
	w := New(sink, cfg)
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

func TestWatcher_DebouncesWritesIntoOneBatch(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, Config{Directories: []string{dir}, Extensions: []string{".txt"}, Recursive: true, User: "alice"})

	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	for i := 0; i < 3; i++ {
		if err := writeFile(a, "hello"); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(b, "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignored.bin"), "x"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		got := sink.ingested()
		return contains(got, a) && contains(got, b)
	})
	for _, p := range sink.ingested() {
		if filepath.Ext(p) != ".txt" {
			t.Errorf("unexpected path ingested: %s", p)
		}
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, u := range sink.users {
		if u != "alice" {
			t.Errorf("batch ran for user %q", u)
		}
	}
}

func TestWatcher_RemoveForgetsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := writeFile(path, "bye"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	startWatcher(t, sink, Config{Directories: []string{dir}, Extensions: []string{".txt"}})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return contains(sink.forgot(), path) })
}

func TestWatcher_NewDirectoryIsWatchedAndIndexed(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, Config{Directories: []string{dir}, Extensions: []string{".txt"}, Recursive: true})

	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to add the new directory before writing into it.
	time.Sleep(100 * time.Millisecond)
	inner := filepath.Join(sub, "inner.txt")
	if err := writeFile(inner, "nested"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return contains(sink.ingested(), inner) })
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	w := startWatcher(t, &recordingSink{}, Config{Directories: []string{root}})
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	if err := writeFile(keep, "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "skip.md"), "x"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := New(sink, Config{Directories: []string{dir}, Extensions: []string{".txt"}, User: "bob"})

	report, err := w.SyncExisting(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 1 {
		t.Errorf("Indexed = %d", report.Indexed)
	}
	if got := sink.ingested(); len(got) != 1 || got[0] != keep {
		t.Errorf("ingested %v", got)
	}
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
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
