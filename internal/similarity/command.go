package similarity

import "github.com/stritefax/heelixchat/internal/vector"

// Command is one unit of work for the index worker. The variants are unexported:
// callers go through Search, which builds them.
type Command interface {
	command()
}

// addCommand inserts a node. It carries no reply; a failed insert stops the worker.
type addCommand struct {
	vector []float32
	id     int64
}

// lookupCommand asks for the k nearest nodes. reply has capacity 1 so the worker never
// blocks on a caller that stopped waiting.
type lookupCommand struct {
	vector []float32
	k      int
	reply  chan lookupResult
}

type lookupResult struct {
	candidates []vector.Candidate
	err        error
}

// saveCommand snapshots the engine. done is nil for fire-and-forget saves.
type saveCommand struct {
	done chan error
}

// statsCommand reads engine counters in queue order.
type statsCommand struct {
	reply chan Stats
}

// shutdownCommand stops the worker. Commands queued behind it are not applied.
type shutdownCommand struct{}

func (addCommand) command()      {}
func (lookupCommand) command()   {}
func (saveCommand) command()     {}
func (statsCommand) command()    {}
func (shutdownCommand) command() {}
