package search

import (
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// resolved is a search with every default applied.
type resolved struct {
	query       string
	class       models.QueryClass
	hash        string
	k           int
	threshold   float64
	tfThreshold float64
}

// processQuery validates query and opts and fills unset options from cfg.
func processQuery(query string, opts models.SearchOptions, cfg Config) (resolved, error) {
	var r resolved
	if strings.TrimSpace(query) == "" {
		return r, models.NewDomainError(models.CodeInvalidInput, "query cannot be empty")
	}
	class, err := models.ParseQueryClass(string(opts.Class))
	if err != nil {
		return r, err
	}
	if opts.K < 0 {
		return r, models.NewDomainError(models.CodeInvalidInput, "k must not be negative")
	}
	r = resolved{
		query:       query,
		class:       class,
		hash:        opts.Hash,
		k:           opts.K,
		threshold:   cfg.threshold(class),
		tfThreshold: cfg.TFThreshold,
	}
	if r.k == 0 {
		r.k = cfg.K
	}
	if opts.Threshold != nil {
		r.threshold = *opts.Threshold
	}
	if opts.TFThreshold != nil {
		r.tfThreshold = *opts.TFThreshold
	}
	return r, nil
}
