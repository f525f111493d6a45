package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func indexAll(t *testing.T, idx *BleveIndex, entries map[string]*Entry) {
	t.Helper()
	ctx := context.Background()
	for id, e := range entries {
		if err := idx.Index(ctx, id, e); err != nil {
			t.Fatalf("Index %s: %v", id, err)
		}
	}
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func ids(results []*KeywordResult) map[string]bool {
	out := make(map[string]bool, len(results))
	for _, r := range results {
		out[r.ID] = true
	}
	return out
}

func TestBleveIndex_writesInvisibleUntilFlush(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, "c1", &Entry{Kind: KindChunk, User: "u", Hash: "h", Text: "Omnisyan findings"}); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, Query{Text: "omnisyan", Kind: KindChunk, User: "u", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Fatalf("expected no hits before flush, got %d", len(res))
	}
	if err := idx.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	res, err = idx.Search(ctx, Query{Text: "omnisyan", Kind: KindChunk, User: "u", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "c1" {
		t.Fatalf("expected c1 after flush, got %+v", res)
	}
}

func TestBleveIndex_filters(t *testing.T) {
	idx := newTestIndex(t)
	indexAll(t, idx, map[string]*Entry{
		"a": {Kind: KindChunk, User: "alice", Hash: "h1", Text: "raft consensus protocol", TF: 0.8},
		"b": {Kind: KindChunk, User: "alice", Hash: "h2", Text: "raft consensus in etcd", TF: 0.1},
		"c": {Kind: KindChunk, User: "bob", Hash: "h1", Text: "raft consensus protocol", TF: 0.9},
		"d": {Kind: KindFulltext, User: "alice", Hash: "h1", Text: "raft consensus protocol"},
	})
	ctx := context.Background()

	res, err := idx.Search(ctx, Query{Text: "raft", Kind: KindChunk, User: "alice", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	got := ids(res)
	if len(got) != 2 || !got["a"] || !got["b"] {
		t.Errorf("user+kind filter: got %v", got)
	}

	res, _ = idx.Search(ctx, Query{Text: "raft", Kind: KindChunk, User: "alice", Hash: "h2", Limit: 10})
	if got := ids(res); len(got) != 1 || !got["b"] {
		t.Errorf("hash filter: got %v", got)
	}

	minTF := 0.3
	res, _ = idx.Search(ctx, Query{Text: "raft", Kind: KindChunk, User: "alice", MinTF: &minTF, Limit: 10})
	if got := ids(res); len(got) != 1 || !got["a"] {
		t.Errorf("tf filter: got %v", got)
	}

	exact := 0.8
	res, _ = idx.Search(ctx, Query{Text: "raft", Kind: KindChunk, User: "alice", MinTF: &exact, Limit: 10})
	if got := ids(res); !got["a"] {
		t.Errorf("tf filter is inclusive: got %v", got)
	}

	res, _ = idx.Search(ctx, Query{Text: "raft", Kind: KindFulltext, User: "alice", Limit: 10})
	if got := ids(res); len(got) != 1 || !got["d"] {
		t.Errorf("fulltext kind: got %v", got)
	}
}

func TestBleveIndex_delete(t *testing.T) {
	idx := newTestIndex(t)
	indexAll(t, idx, map[string]*Entry{
		"x": {Kind: KindChunk, User: "u", Hash: "h", Text: "ephemeral words"},
	})
	ctx := context.Background()
	if err := idx.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("DocCount = %d after delete", n)
	}
}

func TestBleveIndex_reopenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = idx.Index(ctx, "p", &Entry{Kind: KindChunk, User: "u", Hash: "h", Text: "persistent tokens"})
	// Close flushes pending writes.
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	res, err := idx2.Search(ctx, Query{Text: "persistent", Kind: KindChunk, User: "u", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "p" {
		t.Errorf("expected reopened index to find p, got %+v", res)
	}
}

func TestBleveIndex_emptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	res, err := idx.Search(context.Background(), Query{Text: "  ", Kind: KindChunk, User: "u", Limit: 5})
	if err != nil || res != nil {
		t.Errorf("empty query: got %v, %v", res, err)
	}
}
