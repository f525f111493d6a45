// Package relevance computes per-chunk TF-IDF weights used to suppress low-information chunks.
package relevance

import (
	"fmt"
	"math"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/shiori/internal/models"
)

var (
	analyzerOnce    sync.Once
	analyzerMapping *mapping.IndexMappingImpl
)

// Tokenize runs the standard analyzer (unicode segmentation, lowercase, English stopwords)
// over text and returns the resulting terms in order.
func Tokenize(text string) ([]string, error) {
	analyzerOnce.Do(func() {
		analyzerMapping = bleve.NewIndexMapping()
	})
	tokens, err := analyzerMapping.AnalyzeText(standard.Name, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze text: %w", err)
	}
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Term) > 0 {
			terms = append(terms, string(tok.Term))
		}
	}
	return terms, nil
}

// Score fits a TF-IDF model over the chunks of one document and returns, per chunk, the sum of
// its term weights. tf is count/len(chunk terms) and idf is the smoothed ln((1+N)/(1+df)) + 1, so
// a chunk made only of terms shared by every chunk weighs 1 and rarer terms push it higher. A
// chunk with no analyzable term weighs 0. Returns ErrEmptyContent when no chunk has one.
func Score(chunks []string) ([]float64, error) {
	n := len(chunks)
	termsPerChunk := make([][]string, n)
	df := make(map[string]int)
	for i, c := range chunks {
		terms, err := Tokenize(c)
		if err != nil {
			return nil, err
		}
		termsPerChunk[i] = terms
		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	if len(df) == 0 {
		return nil, models.NewDomainError(models.CodeEmptyContent, "no analyzable vocabulary in chunks")
	}

	weights := make([]float64, n)
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log(float64(1+n)/float64(1+d)) + 1
	}
	for i, terms := range termsPerChunk {
		if len(terms) == 0 {
			continue
		}
		counts := make(map[string]int, len(terms))
		for _, t := range terms {
			counts[t]++
		}
		total := float64(len(terms))
		var w float64
		for t, c := range counts {
			w += float64(c) / total * idf[t]
		}
		weights[i] = w
	}
	return weights, nil
}
