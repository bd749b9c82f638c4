// Package search assembles retrieval results and chat context from the similarity index,
// the keyword index and the document store.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/keyword"
	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/internal/vector"
	"github.com/stritefax/heelixchat/pkg/utils"
)

// NoDocumentsContext is the context returned when nothing relevant was found.
const NoDocumentsContext = "No relevant documents found.\n\n"

const snippetChars = 200

// Engine runs retrieval over the similarity index with keyword candidates mixed in.
type Engine struct {
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	handle       *similarity.Handle
	config       *config.RetrievalConfig
	logger       *zap.Logger
}

// NewEngine creates a retrieval engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	keywordIndex keyword.KeywordIndex,
	handle *similarity.Handle,
	cfg *config.RetrievalConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		storage:      storage,
		keywordIndex: keywordIndex,
		handle:       handle,
		config:       cfg,
		logger:       utils.OrNop(logger),
	}
}

// Index stores a document, indexes its keywords and queues it for the similarity index
// followed by a snapshot save. The document is searchable by keyword on return; the vector
// is applied by the index worker in order with later queries.
func (e *Engine) Index(ctx context.Context, in *models.DocumentInput, credential string) (*models.Document, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	doc := in.Document()
	if err := e.storage.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if err := e.keywordIndex.Index(ctx, doc); err != nil {
		return nil, fmt.Errorf("keyword index document %d: %w", doc.ID, err)
	}
	err := e.handle.With(func(s *similarity.Search) error {
		if err := s.Add(ctx, doc.ID, indexText(doc), credential); err != nil {
			return err
		}
		return s.Sync(ctx)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("document indexed", zap.Int64("id", doc.ID), zap.Int("chars", utils.RuneCount(doc.Content)))
	return doc, nil
}

// Search returns the documents nearest to the query followed by keyword-only candidates.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery, credential string) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	semantic, keywords, err := e.candidates(ctx, q.Query, q.K, e.config.KeywordCandidates, credential)
	if err != nil {
		return nil, err
	}

	keywordScores := NormalizeKeywordScores(keywords)
	merged := Merge(semantic, keywords)
	resp := &models.SearchResponse{Query: q.Query, Hits: make([]*models.SearchHit, 0, len(merged))}
	for _, m := range merged {
		doc, err := e.storage.GetDocument(ctx, m.ID)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("indexed document missing from store", zap.Int64("id", m.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load document %d: %w", m.ID, err)
		}
		hit := &models.SearchHit{
			ID:      doc.ID,
			Source:  m.Source,
			Title:   doc.Title,
			Snippet: Snippet(doc.Content, snippetChars),
		}
		if m.Source == models.SourceSemantic {
			hit.Distance = m.Distance
			hit.Score = 1 - float64(m.Distance)
		} else {
			hit.Score = keywordScores[m.ID]
		}
		resp.Hits = append(resp.Hits, hit)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Context assembles retrieval context for a chat prompt: the nearest documents and the
// keyword candidates, each as "Document ID: <id>\nContent:\n<text>\n\n".
func (e *Engine) Context(ctx context.Context, q *models.ContextQuery, credential string) (*models.ContextResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	resolveContextQuery(q, e.config)

	semantic, keywords, err := e.candidates(ctx, q.Query, q.K, q.KeywordCandidates, credential)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	resp := &models.ContextResponse{Query: q.Query, DocumentIDs: []int64{}}
	for _, m := range Merge(semantic, keywords) {
		text, err := e.storage.GetDocumentText(ctx, m.ID, q.MaxChars)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("indexed document missing from store", zap.Int64("id", m.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load document %d: %w", m.ID, err)
		}
		fmt.Fprintf(&b, "Document ID: %d\nContent:\n%s\n\n", m.ID, text)
		resp.DocumentIDs = append(resp.DocumentIDs, m.ID)
	}
	if b.Len() == 0 {
		b.WriteString(NoDocumentsContext)
	}
	resp.Context = b.String()
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// candidates runs the similarity query and the keyword query. A keyword failure is logged
// and leaves the semantic candidates alone.
func (e *Engine) candidates(ctx context.Context, query string, k, keywordLimit int, credential string) ([]vector.Candidate, []*keyword.KeywordResult, error) {
	var semantic []vector.Candidate
	err := e.handle.With(func(s *similarity.Search) error {
		var err error
		semantic, err = s.TopK(ctx, query, k, credential)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if keywordLimit <= 0 {
		return semantic, nil, nil
	}
	keywords, err := e.keywordIndex.Search(ctx, query, keywordLimit, nil)
	if err != nil {
		e.logger.Warn("keyword search failed", zap.String("query", utils.Truncate(query, 80)), zap.Error(err))
		return semantic, nil, nil
	}
	return semantic, keywords, nil
}

func indexText(doc *models.Document) string {
	if doc.Title == "" {
		return doc.Content
	}
	return doc.Title + "\n" + doc.Content
}
