package models

// SearchHit is a single scored chunk or document returned by a query. It is never persisted.
type SearchHit struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Hash   string  `json:"hash"`
	Seq    int     `json:"seq"`
	Total  int     `json:"total"`
	Title  string  `json:"title"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// Range is an inclusive span of chunk sequence numbers within one document.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Passage is the stitched text reconstructed from the hits of one document.
type Passage struct {
	Score  float64 `json:"score"`
	Title  string  `json:"title"`
	Source string  `json:"source,omitempty"`
	Hash   string  `json:"hash"`
	Ranges []Range `json:"ranges"`
	Text   string  `json:"text"`
}
