package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
	mu    sync.Mutex
	batch *bleve.Batch
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and drops stopwords without stemming, so "bayes" matches
	// "Bayes" but not "Bayesian".
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("user", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("hash", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("tf", bleve.NewNumericFieldMapping())
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates a memory-only index.
// If the mapping changes in code, remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	var (
		index bleve.Index
		err   error
	)
	switch {
	case path == "":
		index, err = bleve.NewMemOnly(im)
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			index, err = bleve.Open(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open Bleve index: %w", err)
			}
			return &BleveIndex{index: index, batch: index.NewBatch()}, nil
		}
		index, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index, batch: index.NewBatch()}, nil
}

// Index queues e under id in the pending batch.
func (b *BleveIndex) Index(ctx context.Context, id string, e *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batch.Index(id, map[string]interface{}{
		"kind":  e.Kind,
		"user":  e.User,
		"hash":  e.Hash,
		"title": e.Title,
		"text":  e.Text,
		"tf":    e.TF,
	})
}

// Delete queues removal of id in the pending batch.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch.Delete(id)
	return nil
}

// Flush applies the pending batch.
func (b *BleveIndex) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batch.Size() == 0 {
		return nil
	}
	if err := b.index.Batch(b.batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	b.batch.Reset()
	return nil
}

// Search runs a match query on the text field conjoined with zero-boost filter clauses.
func (b *BleveIndex) Search(ctx context.Context, q Query) ([]*KeywordResult, error) {
	if strings.TrimSpace(q.Text) == "" || q.Limit <= 0 {
		return nil, nil
	}
	match := bleve.NewMatchQuery(q.Text)
	match.SetField("text")

	clauses := []blevequery.Query{match, filterTerm("kind", q.Kind), filterTerm("user", q.User)}
	if q.Hash != "" {
		clauses = append(clauses, filterTerm("hash", q.Hash))
	}
	if q.MinTF != nil {
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(q.MinTF, nil, &inclusive, nil)
		rq.SetField("tf")
		rq.SetBoost(0)
		clauses = append(clauses, rq)
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(clauses...))
	req.Size = q.Limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func filterTerm(field, value string) blevequery.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	tq.SetBoost(0)
	return tq
}

// DocCount returns the total number of entries in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close flushes pending writes and closes the index.
func (b *BleveIndex) Close() error {
	flushErr := b.Flush(context.Background())
	if err := b.index.Close(); err != nil {
		return err
	}
	return flushErr
}
