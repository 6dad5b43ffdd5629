package asiotest

import (
	"context"
	"log/slog"
	"sync"
)

// Gate counts buffer switches and lets one goroutine wait for a threshold.
// Increments come from driver goroutines, the count never decreases.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	logger *slog.Logger
}

// NewGate returns a gate with a zero count.
func NewGate(logger *slog.Logger) *Gate {
	g := &Gate{logger: loggerOrDefault(logger)}
	g.cond = sync.NewCond(&g.mu)

	return g
}

// Increment adds one to the count and wakes all waiters.
func (g *Gate) Increment() {
	g.mu.Lock()
	g.count++
	g.logger.Debug("Buffer switch count", "count", g.count)
	g.mu.Unlock()

	g.cond.Broadcast()
}

// Count returns the current count.
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.count
}

// WaitUntil blocks until the count is at least n.
func (g *Gate) WaitUntil(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.count < n {
		g.cond.Wait()
	}
}

// WaitUntilContext blocks until the count is at least n or ctx is done.
// It returns ctx.Err() if the threshold was not reached.
func (g *Gate) WaitUntilContext(ctx context.Context, n int) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.count < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}

	return nil
}
