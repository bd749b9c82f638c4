package models

// Hit sources.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
)

// SearchHit is one retrieved document.
type SearchHit struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Source   string  `json:"source"`
	Title    string  `json:"title,omitempty"`
	Snippet  string  `json:"snippet,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string       `json:"query"`
	Hits      []*SearchHit `json:"hits"`
	QueryTime int64        `json:"query_time_ms"`
}

// ContextResponse carries assembled retrieval context and the documents it was built from.
type ContextResponse struct {
	Query       string  `json:"query"`
	Context     string  `json:"context"`
	DocumentIDs []int64 `json:"document_ids"`
	QueryTime   int64   `json:"query_time_ms"`
}
