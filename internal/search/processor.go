package search

import (
	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/models"
)

// resolveContextQuery fills unset fields from cfg and clamps MaxChars to the supported range.
func resolveContextQuery(q *models.ContextQuery, cfg *config.RetrievalConfig) {
	if q.K == 0 {
		q.K = cfg.TopK
	}
	if q.KeywordCandidates == 0 {
		q.KeywordCandidates = cfg.KeywordCandidates
	}
	if q.MaxChars == 0 {
		q.MaxChars = cfg.MaxContextChars
	}
	q.MaxChars = min(max(q.MaxChars, config.MinContextChars), config.MaxContextChars)
}
