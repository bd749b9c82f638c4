package models

import "fmt"

// DefaultK is the number of nearest documents returned when a query does not say.
const DefaultK = 10

// SearchQuery asks for the documents nearest to Query.
type SearchQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate rejects empty queries and defaults K. The upper bound of K is enforced by
// the similarity index.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K == 0 {
		q.K = DefaultK
	}
	return nil
}

// ContextQuery asks for retrieval context to accompany a chat prompt.
type ContextQuery struct {
	Query             string `json:"query"`
	K                 int    `json:"k,omitempty"`
	KeywordCandidates int    `json:"keyword_candidates,omitempty"`
	MaxChars          int    `json:"max_chars,omitempty"`
}

// Validate rejects empty queries. Zero fields are filled in by the retrieval engine.
func (q *ContextQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K < 0 || q.KeywordCandidates < 0 || q.MaxChars < 0 {
		return fmt.Errorf("k, keyword_candidates and max_chars must not be negative")
	}
	return nil
}
