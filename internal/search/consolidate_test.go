package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/models"
)

// memFetcher serves chunk "h:seq" texts for documents of a fixed size.
type memFetcher struct {
	total map[string]int
	calls int
	err   error
}

func (f *memFetcher) ChunkRange(_ context.Context, _ string, hash string, start, end int) ([]*models.ChunkRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.ChunkRecord
	for seq := start; seq <= end && seq < f.total[hash]; seq++ {
		out = append(out, &models.ChunkRecord{Hash: hash, Seq: seq, Text: fmt.Sprintf("%s:%d", hash, seq)})
	}
	return out, nil
}

func hitsAt(hash string, total int, score float64, seqs ...int) []*models.SearchHit {
	hits := make([]*models.SearchHit, len(seqs))
	for i, s := range seqs {
		hits[i] = &models.SearchHit{ID: fmt.Sprintf("%s-%d", hash, s), Hash: hash, Seq: s, Total: total, Score: score, Title: "Doc " + hash}
	}
	return hits
}

func TestMergeWindows(t *testing.T) {
	tests := []struct {
		name    string
		seqs    []int
		total   int
		padding int
		want    []models.Range
	}{
		{"separated", []int{2, 3, 7}, 10, 1, []models.Range{{Start: 1, End: 4}, {Start: 6, End: 8}}},
		{"touching windows merge", []int{2, 4}, 10, 1, []models.Range{{Start: 1, End: 5}}},
		{"unsorted input", []int{7, 2, 3}, 10, 1, []models.Range{{Start: 1, End: 4}, {Start: 6, End: 8}}},
		{"clamped at start", []int{0}, 10, 2, []models.Range{{Start: 0, End: 2}}},
		{"clamped at total", []int{9}, 10, 3, []models.Range{{Start: 6, End: 10}}},
		{"no padding keeps gaps", []int{1, 2, 4}, 10, 0, []models.Range{{Start: 1, End: 2}, {Start: 4, End: 4}}},
		{"duplicate hits", []int{5, 5}, 10, 1, []models.Range{{Start: 4, End: 6}}},
		{"contained window", []int{3, 4}, 10, 3, []models.Range{{Start: 0, End: 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeWindows(hitsAt("h", tt.total, 1, tt.seqs...), tt.padding)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Nil(t, MergeWindows(nil, 1))
}

func TestConsolidate_StitchesWithGapSeparator(t *testing.T) {
	f := &memFetcher{total: map[string]int{"a": 10}}
	passages, err := Consolidate(context.Background(), f, "u", hitsAt("a", 10, 0.9, 2, 3, 7), 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)

	p := passages[0]
	assert.Equal(t, "a", p.Hash)
	assert.Equal(t, "Doc a", p.Title)
	assert.Equal(t, []models.Range{{Start: 1, End: 4}, {Start: 6, End: 8}}, p.Ranges)
	assert.Equal(t, 1, strings.Count(p.Text, GapSeparator))
	assert.Equal(t, "a:1\na:2\na:3\na:4"+GapSeparator+"a:6\na:7\na:8", p.Text)
	assert.Equal(t, 2, f.calls)
}

func TestConsolidate_TouchingWindowsHaveNoSeparator(t *testing.T) {
	f := &memFetcher{total: map[string]int{"a": 10}}
	passages, err := Consolidate(context.Background(), f, "u", hitsAt("a", 10, 0.5, 2, 4), 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, []models.Range{{Start: 1, End: 5}}, passages[0].Ranges)
	assert.NotContains(t, passages[0].Text, GapSeparator)
	assert.Equal(t, "a:1\na:2\na:3\na:4\na:5", passages[0].Text)
}

func TestConsolidate_GroupsAndOrdersByMeanScore(t *testing.T) {
	f := &memFetcher{total: map[string]int{"a": 3, "b": 3, "c": 3}}
	hits := []*models.SearchHit{
		{Hash: "a", Seq: 0, Total: 3, Score: 0.25},
		{Hash: "b", Seq: 1, Total: 3, Score: 0.9},
		{Hash: "a", Seq: 2, Total: 3, Score: 0.75},
		{Hash: "c", Seq: 1, Total: 3, Score: 0.5},
	}
	passages, err := Consolidate(context.Background(), f, "u", hits, 0)
	require.NoError(t, err)
	require.Len(t, passages, 3)
	assert.Equal(t, "b", passages[0].Hash)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-9)
	// a and c tie at 0.5; hash breaks the tie.
	assert.Equal(t, "a", passages[1].Hash)
	assert.Equal(t, 0.5, passages[1].Score)
	assert.Equal(t, "c", passages[2].Hash)
	assert.Equal(t, "a:0"+GapSeparator+"a:2", passages[1].Text)
}

func TestConsolidate_WholeDocumentHitsKeepTheirText(t *testing.T) {
	fetcher := &memFetcher{total: map[string]int{"a": 4}}
	hits := []*models.SearchHit{
		{ID: "d", Hash: "d", Text: "alpha one\nbeta two\ngamma three\ndelta masts", Title: "Doc d", Score: 0.9},
		hitsAt("a", 4, 0.5, 3)[0],
	}
	passages, err := Consolidate(context.Background(), fetcher, "u", hits, 1)
	require.NoError(t, err)
	require.Len(t, passages, 2)

	assert.Equal(t, "d", passages[0].Hash)
	assert.Contains(t, passages[0].Text, "delta masts")
	assert.Empty(t, passages[0].Ranges)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-9)
	assert.Equal(t, "a:2\na:3", passages[1].Text)
	assert.Equal(t, 1, fetcher.calls)
}

func TestConsolidate_Errors(t *testing.T) {
	_, err := Consolidate(context.Background(), &memFetcher{}, "u", hitsAt("a", 3, 1, 0), -1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	failing := &memFetcher{err: models.StoreError("chunk range", errors.New("timeout"))}
	_, err = Consolidate(context.Background(), failing, "u", hitsAt("a", 3, 1, 0), 1)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = Consolidate(context.Background(), &memFetcher{}, "u", []*models.SearchHit{nil}, 1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	passages, err := Consolidate(context.Background(), &memFetcher{}, "u", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, passages)
}
