// Package similarity serves nearest-neighbor retrieval over embedded document text.
// A single worker goroutine owns the index; Search turns text into commands for it.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/embedding"
	"github.com/stritefax/heelixchat/internal/vector"
	"github.com/stritefax/heelixchat/pkg/utils"
)

const (
	// DefaultCollection names the snapshot files of the activity index.
	DefaultCollection = "activity_vectors"
	// MaxTopK is the widest query TopK accepts.
	MaxTopK = vector.MaxConnections
	// MaxEmbeddingChars bounds the text sent to the embedding provider.
	MaxEmbeddingChars = 7900
	// QueueSize is the number of commands that may wait for the worker.
	QueueSize = 100
)

var (
	// ErrInvalidK is returned by TopK when k is outside 1..MaxTopK.
	ErrInvalidK = errors.New("similarity: k out of range")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("similarity: index closed")
	// ErrWorkerStopped is returned when the worker has exited. It wraps the fault that
	// stopped it, if any.
	ErrWorkerStopped = errors.New("similarity: index worker stopped")
)

// Stats describes the engine as seen by the worker.
type Stats struct {
	Collection string           `json:"collection"`
	Nodes      int              `json:"nodes"`
	Dimension  int              `json:"dimension"`
	Type       vector.IndexType `json:"type"`
	State      WorkerState      `json:"state"`
	Queued     int              `json:"queued"`
}

// Search is the handle to one open collection.
type Search struct {
	dir        string
	collection string
	embedder   embedding.Embedder
	commands   chan Command
	worker     *worker
	logger     *zap.Logger

	// sendMu orders sends against Close: a command sent under the read lock after the
	// closed check is queued ahead of the final save and shutdown.
	sendMu    sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type openConfig struct {
	logger     *zap.Logger
	engineOpts vector.Options
	codec      vector.Codec
	queueSize  int
}

// Option configures Open.
type Option func(*openConfig)

// WithLogger sets the logger for the worker and the façade.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// WithEngineOptions overrides the engine type, dimension and limits.
func WithEngineOptions(o vector.Options) Option {
	return func(c *openConfig) { c.engineOpts = o }
}

// WithCodec sets the compression of saved snapshots.
func WithCodec(codec vector.Codec) Option {
	return func(c *openConfig) { c.codec = codec }
}

// WithQueueSize sets how many commands may be pending before callers block.
func WithQueueSize(n int) Option {
	return func(c *openConfig) { c.queueSize = n }
}

// Open prepares dir (creating it if needed), promotes a staged snapshot of collection and
// starts the worker, which loads the snapshot in the background.
func Open(dir, collection string, embedder embedding.Embedder, opts ...Option) (*Search, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	cfg := openConfig{engineOpts: vector.DefaultOptions(), queueSize: QueueSize}
	for _, o := range opts {
		o(&cfg)
	}
	logger := utils.OrNop(cfg.logger)
	if cfg.queueSize <= 0 {
		cfg.queueSize = QueueSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if err := promoteStaged(dir, collection, logger); err != nil {
		return nil, err
	}

	commands := make(chan Command, cfg.queueSize)
	w := newWorker(dir, collection, cfg.engineOpts, cfg.codec, commands, logger)
	go w.run()
	return &Search{
		dir:        dir,
		collection: collection,
		embedder:   embedder,
		commands:   commands,
		worker:     w,
		logger:     logger,
	}, nil
}

// Collection returns the collection name.
func (s *Search) Collection() string { return s.collection }

// Dir returns the directory holding the snapshot files.
func (s *Search) Dir() string { return s.dir }

// Add embeds text and queues it for insertion under id. It returns once the command is
// queued, not once it is applied; a later TopK through the same Search sees it.
func (s *Search) Add(ctx context.Context, id int64, text, credential string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	vec, err := s.embed(ctx, text, credential)
	if err != nil {
		return fmt.Errorf("embed document %d: %w", id, err)
	}
	return s.sendOpen(ctx, addCommand{vector: vec, id: id})
}

// TopK returns up to k documents closest to query, nearest first. k must be in 1..MaxTopK.
// Fewer results than k is not an error.
func (s *Search) TopK(ctx context.Context, query string, k int, credential string) ([]vector.Candidate, error) {
	if k < 1 || k > MaxTopK {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidK, k, MaxTopK)
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	vec, err := s.embed(ctx, query, credential)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	reply := make(chan lookupResult, 1)
	if err := s.sendOpen(ctx, lookupCommand{vector: vec, k: k, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.candidates, r.err
	case <-s.worker.done:
		select {
		case r := <-reply:
			return r.candidates, r.err
		default:
			return nil, s.stoppedErr()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sync queues a snapshot save and returns without waiting for it. Save failures are logged.
func (s *Search) Sync(ctx context.Context) error {
	return s.sendOpen(ctx, saveCommand{})
}

// SyncWait queues a snapshot save and waits for its outcome.
func (s *Search) SyncWait(ctx context.Context) error {
	return s.saveAndWait(ctx, s.sendOpen)
}

// Stats reports engine counters. The request is queued behind pending commands.
func (s *Search) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := s.sendOpen(ctx, statsCommand{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		st.Queued = len(s.commands)
		return st, nil
	case <-s.worker.done:
		return Stats{}, s.stoppedErr()
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// State returns the worker lifecycle state without queueing.
func (s *Search) State() WorkerState {
	return s.worker.State()
}

// Close saves the index, stops the worker and waits for it to exit. Later calls return
// the first result. A save failure is logged and returned but does not prevent shutdown.
func (s *Search) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		s.sendMu.Unlock()
		saveErr := s.saveAndWait(ctx, s.send)
		if saveErr != nil && !errors.Is(saveErr, ErrWorkerStopped) {
			s.logger.Error("final index save failed", zap.String("collection", s.collection), zap.Error(saveErr))
		}
		_ = s.send(ctx, shutdownCommand{})
		select {
		case <-s.worker.done:
		case <-ctx.Done():
			s.closeErr = errors.Join(saveErr, ctx.Err())
			return
		}
		if s.worker.fault != nil {
			s.closeErr = s.stoppedErr()
			return
		}
		s.closeErr = saveErr
	})
	return s.closeErr
}

func (s *Search) embed(ctx context.Context, text, credential string) ([]float32, error) {
	return s.embedder.Embed(ctx, utils.TruncateRunes(text, MaxEmbeddingChars), credential)
}

func (s *Search) saveAndWait(ctx context.Context, send func(context.Context, Command) error) error {
	done := make(chan error, 1)
	if err := send(ctx, saveCommand{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-s.worker.done:
		select {
		case err := <-done:
			return err
		default:
			return s.stoppedErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendOpen queues cmd unless Close has started.
func (s *Search) sendOpen(ctx context.Context, cmd Command) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	return s.send(ctx, cmd)
}

// send queues cmd, blocking while the queue is full.
func (s *Search) send(ctx context.Context, cmd Command) error {
	select {
	case <-s.worker.done:
		return s.stoppedErr()
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.worker.done:
		return s.stoppedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stoppedErr must only be called after the worker's done channel is closed.
func (s *Search) stoppedErr() error {
	if s.worker.fault != nil {
		return fmt.Errorf("%w: %w", ErrWorkerStopped, s.worker.fault)
	}
	return ErrWorkerStopped
}
