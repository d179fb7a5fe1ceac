package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// gate is a one-shot release point for a single run. once guards the close
// so repeated signals are no-ops.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func (g *gate) open() {
	g.once.Do(func() { close(g.ch) })
}

// Broker is the per-run approval gate. Each run gets at most one gate,
// opened exactly once; every goroutine awaiting that run is released by a
// single signal. Signals for unknown or already-resolved runs are no-ops.
type Broker struct {
	mu    sync.Mutex
	gates map[uuid.UUID]*gate
}

// NewBroker creates an empty approval broker.
func NewBroker() *Broker {
	return &Broker{gates: make(map[uuid.UUID]*gate)}
}

// gate returns the run's gate, creating it if needed.
func (b *Broker) gateFor(runID uuid.UUID) *gate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gates[runID]
	if !ok {
		g = &gate{ch: make(chan struct{})}
		b.gates[runID] = g
	}
	return g
}

// Register opens a gate for the run before the approval request is
// published, so a signal arriving immediately after is not lost.
func (b *Broker) Register(runID uuid.UUID) {
	b.gateFor(runID)
}

// Await blocks until Signal is called with exactly this run id, or until
// ctx is done. A signal that arrived before Await is observed immediately;
// a stale or mismatched signal leaves the wait untouched.
func (b *Broker) Await(ctx context.Context, runID uuid.UUID) error {
	g := b.gateFor(runID)
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal approves the run, releasing every current and future waiter. The
// gate stays in the map until Resolve so a waiter arriving after the signal
// still sees it. Unknown run ids and repeated signals are no-ops.
func (b *Broker) Signal(runID uuid.UUID) {
	b.mu.Lock()
	g, ok := b.gates[runID]
	b.mu.Unlock()
	if ok {
		g.open()
	}
}

// Resolve discards the run's gate without releasing waiters. Called when a
// run ends so gates do not accumulate; any remaining waiter exits through
// its own context.
func (b *Broker) Resolve(runID uuid.UUID) {
	b.mu.Lock()
	delete(b.gates, runID)
	b.mu.Unlock()
}
