package search

import (
	"github.com/stritefax/heelixchat/internal/keyword"
	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/internal/vector"
)

// MergedResult is one document id in retrieval order.
type MergedResult struct {
	ID       int64
	Source   string
	Distance float32
}

// Merge returns the semantic candidates in rank order followed by keyword hits not already
// present. Duplicate ids keep their first position.
func Merge(semantic []vector.Candidate, keywords []*keyword.KeywordResult) []MergedResult {
	seen := make(map[int64]struct{}, len(semantic)+len(keywords))
	out := make([]MergedResult, 0, len(semantic)+len(keywords))
	for _, c := range semantic {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, MergedResult{ID: c.ID, Source: models.SourceSemantic, Distance: c.Distance})
	}
	for _, r := range keywords {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, MergedResult{ID: r.ID, Source: models.SourceKeyword})
	}
	return out
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[int64]float64 {
	normalized := make(map[int64]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}
