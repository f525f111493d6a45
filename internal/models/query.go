package models

import (
	"fmt"
	"strings"
)

// QueryClass selects which store query shape a search runs.
type QueryClass string

const (
	// ClassChunk is semantic k-NN over chunk embeddings.
	ClassChunk QueryClass = "CHUNK"
	// ClassKeywords is lexical match over chunk text, filtered by tf weight.
	ClassKeywords QueryClass = "KEYWORDS"
	// ClassFulltext is lexical match over whole-document text.
	ClassFulltext QueryClass = "FULLTEXT"
)

// ParseQueryClass parses s case-insensitively. Empty input yields ClassChunk.
func ParseQueryClass(s string) (QueryClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ClassChunk):
		return ClassChunk, nil
	case string(ClassKeywords), "KEYWORD":
		return ClassKeywords, nil
	case string(ClassFulltext):
		return ClassFulltext, nil
	default:
		return "", NewDomainError(CodeInvalidInput, fmt.Sprintf("unknown query class %q", s))
	}
}

// SearchOptions are the optional parameters of a search. Nil pointers and zero values use defaults.
type SearchOptions struct {
	Class       QueryClass `json:"class,omitempty"`
	Hash        string     `json:"hash,omitempty"`
	K           int        `json:"k,omitempty"`
	Threshold   *float64   `json:"threshold,omitempty"`
	TFThreshold *float64   `json:"tf_threshold,omitempty"`
}

// Float returns a pointer to v, for filling optional thresholds.
func Float(v float64) *float64 {
	return &v
}

// SearchRequest is the body of search and retrieve calls.
type SearchRequest struct {
	Query string `json:"query"`
	SearchOptions
	Padding *int `json:"padding,omitempty"`
}

// Validate ensures the request has a query and a known class.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return NewDomainError(CodeInvalidInput, "query cannot be empty")
	}
	class, err := ParseQueryClass(string(r.Class))
	if err != nil {
		return err
	}
	r.Class = class
	if r.K < 0 {
		return NewDomainError(CodeInvalidInput, "k must not be negative")
	}
	if r.Padding != nil && *r.Padding < 0 {
		return NewDomainError(CodeInvalidInput, "padding must not be negative")
	}
	return nil
}
