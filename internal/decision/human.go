package decision

import (
	"context"
	"fmt"
	"sync"
)

// humanGate tracks decisions paused for a human verdict. Waits are unbounded:
// nothing but an explicit response moves a registered decision.
type humanGate struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func newHumanGate() *humanGate {
	return &humanGate{pending: make(map[string]chan bool)}
}

func (g *humanGate) register(decisionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[decisionID]; !ok {
		g.pending[decisionID] = make(chan bool, 1)
	}
}

func (g *humanGate) resolve(decisionID string, approved bool) {
	g.mu.Lock()
	ch, ok := g.pending[decisionID]
	g.mu.Unlock()
	if ok {
		// Buffered send: never blocks even with no waiter. The entry stays
		// until a waiter consumes it so a verdict is not lost.
		select {
		case ch <- approved:
		default:
		}
	}
}

// await blocks until the decision is resolved or the context is cancelled.
func (g *humanGate) await(ctx context.Context, decisionID string) (bool, error) {
	g.mu.Lock()
	ch, ok := g.pending[decisionID]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no paused decision: %s", decisionID)
	}
	select {
	case approved := <-ch:
		g.mu.Lock()
		delete(g.pending, decisionID)
		g.mu.Unlock()
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
