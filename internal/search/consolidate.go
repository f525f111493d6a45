package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

const (
	// DefaultPadding is the number of neighboring chunks added on each side of a hit.
	DefaultPadding = 1
	// GapSeparator joins non-adjacent ranges of one document.
	GapSeparator = "\n\n...\n\n"
	rangeJoiner  = "\n"
)

// ChunkFetcher loads the chunks of a document with start <= seq <= end, ordered by seq.
type ChunkFetcher interface {
	ChunkRange(ctx context.Context, user, hash string, start, end int) ([]*models.ChunkRecord, error)
}

// MergeWindows pads each hit's seq to [max(0, seq-padding), min(total, seq+padding)] and merges
// overlapping or touching windows. Hits are expected to belong to one document.
func MergeWindows(hits []*models.SearchHit, padding int) []models.Range {
	if len(hits) == 0 {
		return nil
	}
	sorted := make([]*models.SearchHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var ranges []models.Range
	cur := window(sorted[0], padding)
	for _, h := range sorted[1:] {
		w := window(h, padding)
		if w.Start <= cur.End {
			if w.End > cur.End {
				cur.End = w.End
			}
			continue
		}
		ranges = append(ranges, cur)
		cur = w
	}
	return append(ranges, cur)
}

func window(h *models.SearchHit, padding int) models.Range {
	start := h.Seq - padding
	if start < 0 {
		start = 0
	}
	end := h.Seq + padding
	if h.Total > 0 && end > h.Total {
		end = h.Total
	}
	return models.Range{Start: start, End: end}
}

// Consolidate groups hits by document, merges their padded windows and stitches each document's
// ranges into one passage scored by the mean hit score. Whole-document hits (Total 0, as returned
// by fulltext search) carry their own text and pass through as a passage with no ranges.
// Passages are ordered by score, then hash.
func Consolidate(ctx context.Context, fetcher ChunkFetcher, user string, hits []*models.SearchHit, padding int) ([]*models.Passage, error) {
	if padding < 0 {
		return nil, models.NewDomainError(models.CodeInvalidInput, "padding must not be negative")
	}
	groups := make(map[string][]*models.SearchHit)
	var order []string
	passages := make([]*models.Passage, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			return nil, models.NewDomainError(models.CodeInvalidInput, "hit must not be null")
		}
		if h.Total == 0 {
			passages = append(passages, &models.Passage{
				Score:  h.Score,
				Title:  h.Title,
				Source: h.Source,
				Hash:   h.Hash,
				Ranges: []models.Range{},
				Text:   h.Text,
			})
			continue
		}
		if _, ok := groups[h.Hash]; !ok {
			order = append(order, h.Hash)
		}
		groups[h.Hash] = append(groups[h.Hash], h)
	}

	for _, hash := range order {
		group := groups[hash]
		ranges := MergeWindows(group, padding)
		parts := make([]string, 0, len(ranges))
		for _, r := range ranges {
			chunks, err := fetcher.ChunkRange(ctx, user, hash, r.Start, r.End)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch chunks %d-%d of %s: %w", r.Start, r.End, hash, err)
			}
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			parts = append(parts, strings.Join(texts, rangeJoiner))
		}
		var sum float64
		for _, h := range group {
			sum += h.Score
		}
		passages = append(passages, &models.Passage{
			Score:  sum / float64(len(group)),
			Title:  group[0].Title,
			Source: group[0].Source,
			Hash:   hash,
			Ranges: ranges,
			Text:   strings.Join(parts, GapSeparator),
		})
	}
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].Hash < passages[j].Hash
	})
	return passages, nil
}
