// Package gate provides a one-shot drain latch for background work.
//
// The cache's refresh step enters the gate before fanning out reloads and
// leaves when the fan-out completes. Shutdown closes the gate, which refuses
// new entries and blocks until every entered span has left.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enter after Close has been called.
var ErrClosed = errors.New("gate: closed")

// Gate is a one-shot latch. The zero value is open and ready to use.
type Gate struct {
	mu     sync.Mutex
	active int
	closed bool
	idle   chan struct{} // created by Close when spans are still active
}

// Enter begins a span. It fails with ErrClosed once the gate is closed.
// Every successful Enter must be paired with exactly one Leave.
func (g *Gate) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.active++
	return nil
}

// Leave ends a span started by Enter.
func (g *Gate) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		panic("gate: Leave without matching Enter")
	}
	g.active--
	if g.active == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

// Close marks the gate closed and waits until all active spans have left.
// It returns ctx.Err() if ctx expires first; the gate stays closed either
// way. Closing an already-closed gate just waits for the remaining spans.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
