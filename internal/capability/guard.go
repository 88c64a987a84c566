package capability

import "sync"

// Guard owns the capability context of one script state.
//
// Elevate swaps in a different context for the duration of a call and
// restores the previous one on every exit path, including panics raised by
// the wrapped call (a Lua error unwinding through Go is a panic).
type Guard struct {
	mu       sync.Mutex
	cur      Context
	elevated bool
}

// NewGuard creates a guard holding initial.
func NewGuard(initial Context) *Guard {
	return &Guard{cur: initial}
}

// Current returns the active context.
func (g *Guard) Current() Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur
}

// Set replaces the base context. It is not allowed during an elevation.
func (g *Guard) Set(c Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.elevated {
		return ErrNested
	}
	g.cur = c
	return nil
}

// Elevated reports whether an Elevate call is in progress.
func (g *Guard) Elevated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elevated
}

// Elevate installs next, runs fn, and restores the previous context.
// Returns ErrNested without running fn if an elevation is already active.
// fn's error is returned unchanged; a panic in fn propagates after the
// context has been restored.
func (g *Guard) Elevate(next Context, fn func() error) error {
	g.mu.Lock()
	if g.elevated {
		g.mu.Unlock()
		return ErrNested
	}
	saved := g.cur
	g.cur = next
	g.elevated = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.cur = saved
		g.elevated = false
		g.mu.Unlock()
	}()

	return fn()
}
