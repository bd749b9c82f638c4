package similarity

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/vector"
)

// WorkerState is the lifecycle position of the index worker.
type WorkerState int32

const (
	StateStarting WorkerState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// worker owns the engine. Every mutation and query runs on its goroutine, one command at a
// time, in the order commands were enqueued.
type worker struct {
	dir        string
	collection string
	engineOpts vector.Options
	codec      vector.Codec
	commands   <-chan Command
	done       chan struct{}
	logger     *zap.Logger

	engine vector.Engine
	state  atomic.Int32
	fault  error // written before done is closed
}

func newWorker(dir, collection string, opts vector.Options, codec vector.Codec, commands <-chan Command, logger *zap.Logger) *worker {
	return &worker{
		dir:        dir,
		collection: collection,
		engineOpts: opts,
		codec:      codec,
		commands:   commands,
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("collection", collection)),
	}
}

func (w *worker) run() {
	defer close(w.done)
	defer w.setState(StateStopped)

	engine, err := w.load()
	if err != nil {
		w.fault = err
		w.logger.Error("index worker failed to start", zap.Error(err))
		return
	}
	w.engine = engine
	w.setState(StateRunning)
	w.logger.Info("index worker running",
		zap.Int("nodes", engine.Len()), zap.Int("dimension", engine.Dimension()), zap.String("type", string(engine.Type())))

	for cmd := range w.commands {
		if stop := w.handle(cmd); stop {
			return
		}
	}
	w.logger.Info("command queue closed, index worker stopping")
}

// load restores the canonical snapshot, or starts empty when there is none or it is unusable.
func (w *worker) load() (vector.Engine, error) {
	engine, err := vector.Load(w.dir, w.collection, w.engineOpts)
	switch {
	case err == nil:
		if w.engineOpts.Dimension != 0 && engine.Dimension() != 0 && engine.Dimension() != w.engineOpts.Dimension {
			w.logger.Warn("snapshot dimension differs from configuration, starting empty",
				zap.Int("snapshot", engine.Dimension()), zap.Int("configured", w.engineOpts.Dimension))
			break
		}
		return engine, nil
	case errors.Is(err, vector.ErrNoSnapshot):
		w.logger.Info("no index snapshot, starting empty")
	default:
		w.logger.Warn("index snapshot unreadable, starting empty", zap.Error(err))
	}
	return vector.New(w.engineOpts)
}

// handle applies one command and reports whether the worker must stop.
func (w *worker) handle(cmd Command) bool {
	switch c := cmd.(type) {
	case addCommand:
		if err := w.engine.Insert(c.vector, c.id); err != nil {
			if errors.Is(err, vector.ErrCapacityExceeded) || errors.Is(err, vector.ErrDimensionMismatch) {
				w.fault = fmt.Errorf("insert document %d: %w", c.id, err)
				w.logger.Error("index insert failed, stopping worker", zap.Int64("id", c.id), zap.Error(err))
				return true
			}
			w.logger.Warn("index insert rejected", zap.Int64("id", c.id), zap.Error(err))
		}
	case lookupCommand:
		found, err := w.engine.Search(c.vector, c.k, vector.MaxConnections)
		c.reply <- lookupResult{candidates: found, err: err}
	case saveCommand:
		err := w.save()
		if c.done != nil {
			c.done <- err
		} else if err != nil {
			w.logger.Error("index save failed", zap.Error(err))
		}
	case statsCommand:
		c.reply <- Stats{
			Collection: w.collection,
			Nodes:      w.engine.Len(),
			Dimension:  w.engine.Dimension(),
			Type:       w.engine.Type(),
			State:      w.State(),
		}
	case shutdownCommand:
		w.setState(StateDraining)
		w.logger.Info("index worker shutting down", zap.Int("nodes", w.engine.Len()))
		return true
	default:
		w.logger.Error("unknown index command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
	return false
}

// save writes a fresh temp pair and renames it to the staged name. The next save or Open
// promotes it.
func (w *worker) save() error {
	tmp, err := vector.Persist(w.engine, w.dir, w.collection, w.codec)
	if err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	if err := stage(w.dir, tmp, w.collection, w.logger); err != nil {
		return err
	}
	w.logger.Debug("index snapshot staged", zap.Int("nodes", w.engine.Len()), zap.String("codec", w.codec.String()))
	return nil
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// State returns the current lifecycle state. Safe to call from any goroutine.
func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}
