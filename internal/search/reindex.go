package search

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stritefax/heelixchat/internal/similarity"
)

const reindexPageSize = 100

// Reindex discards the saved similarity index and rebuilds it from every stored document,
// embedding up to concurrency documents at once. Keyword entries are refreshed too.
// It returns the number of documents queued and waits until the new index is saved.
func (e *Engine) Reindex(ctx context.Context, credential string, concurrency int) (int, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	var dir, collection string
	if err := e.handle.With(func(s *similarity.Search) error {
		dir, collection = s.Dir(), s.Collection()
		return nil
	}); err != nil {
		return 0, err
	}
	if err := e.handle.Drop(ctx); err != nil {
		e.logger.Warn("closing index before reindex", zap.String("collection", collection), zap.Error(err))
	}
	if err := similarity.RemoveSnapshot(dir, collection); err != nil {
		return 0, fmt.Errorf("remove snapshot: %w", err)
	}

	s, release, err := e.handle.Acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var queued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for offset := 0; ; offset += reindexPageSize {
		docs, err := e.storage.ListDocuments(gctx, offset, reindexPageSize)
		if err != nil {
			_ = g.Wait()
			return int(queued.Load()), fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			g.Go(func() error {
				if err := e.keywordIndex.Index(gctx, doc); err != nil {
					return fmt.Errorf("keyword index document %d: %w", doc.ID, err)
				}
				if err := s.Add(gctx, doc.ID, indexText(doc), credential); err != nil {
					return err
				}
				queued.Add(1)
				return nil
			})
		}
		if len(docs) < reindexPageSize || gctx.Err() != nil {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return int(queued.Load()), err
	}
	if err := s.SyncWait(ctx); err != nil {
		return int(queued.Load()), fmt.Errorf("save rebuilt index: %w", err)
	}
	e.logger.Info("similarity index rebuilt", zap.String("collection", collection), zap.Int64("documents", queued.Load()))
	return int(queued.Load()), nil
}
