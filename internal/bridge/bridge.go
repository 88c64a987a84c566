package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ErrClosed is returned by Send on a closed Queued bridge.
var ErrClosed = errors.New("bridge: closed")

// Shape selects how a bridge delivers calls.
type Shape int

const (
	// Direct invokes the target synchronously inside Call.
	Direct Shape = iota
	// Queued defers the target until the receiver drains the bridge.
	Queued
)

func (s Shape) String() string {
	if s == Queued {
		return "queued"
	}
	return "direct"
}

// Target receives a call on the other side of the bridge. It owns args and
// must rebuild them in its own state with Value.Lua.
type Target func(ctx context.Context, args []Value) ([]Value, error)

// Call is one deferred call.
type Call struct {
	Seq    uint64
	Name   string
	Args   []Value
	Target Target
}

// Bridge delivers calls from one state to another. All methods are safe
// for concurrent use; Drain must be called from the receiving goroutine.
type Bridge struct {
	name   string
	shape  Shape
	queue  *callQueue
	logger *slog.Logger

	seq     atomic.Uint64
	dropped atomic.Uint64
	drained atomic.Uint64
	failed  atomic.Uint64
}

// New creates a bridge. A nil logger uses slog.Default.
func New(name string, shape Shape, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		name:   name,
		shape:  shape,
		queue:  newCallQueue(),
		logger: logger.With("bridge", name, "shape", shape.String()),
	}
}

// Name returns the bridge name.
func (b *Bridge) Name() string { return b.name }

// Shape returns the delivery shape chosen at construction.
func (b *Bridge) Shape() Shape { return b.shape }

// Call copies args out of the sending state and delivers them to target.
// Direct bridges return the target's results; Queued bridges return no
// results. A copy failure drops the call: it is logged, counted, and
// returned, and nothing is delivered.
func (b *Bridge) Call(ctx context.Context, name string, target Target, args ...lua.LValue) ([]Value, error) {
	vals, err := CopyAll(args)
	if err != nil {
		b.drop(name, err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b.Send(ctx, name, target, vals)
}

// Send delivers already-copied args.
func (b *Bridge) Send(ctx context.Context, name string, target Target, args []Value) ([]Value, error) {
	if b.shape == Direct {
		return target(ctx, args)
	}
	c := Call{Seq: b.seq.Add(1), Name: name, Args: args, Target: target}
	if !b.queue.Enqueue(c) {
		b.drop(name, ErrClosed)
		return nil, ErrClosed
	}
	return nil, nil
}

// SendGo converts Go args with FromGo and delivers them.
func (b *Bridge) SendGo(ctx context.Context, name string, target Target, args []any) ([]Value, error) {
	vals, err := FromGoAll(args)
	if err != nil {
		b.drop(name, err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b.Send(ctx, name, target, vals)
}

func (b *Bridge) drop(name string, err error) {
	b.dropped.Add(1)
	b.logger.Warn("bridge call dropped", "call", name, "error", err)
}

// Drain replays every call queued before it started, in enqueue order, and
// discards results. Calls enqueued while draining wait for the next Drain.
// Returns the number of calls replayed. A no-op on Direct bridges.
func (b *Bridge) Drain(ctx context.Context) int {
	calls := b.queue.Swap()
	for _, c := range calls {
		if _, err := c.Target(ctx, c.Args); err != nil {
			b.failed.Add(1)
			b.logger.Error("bridged call failed", "call", c.Name, "seq", c.Seq, "error", err)
		}
		b.drained.Add(1)
	}
	return len(calls)
}

// Wait signals when queued calls may be available.
func (b *Bridge) Wait() <-chan struct{} { return b.queue.Wait() }

// Pending returns the number of queued calls.
func (b *Bridge) Pending() int { return b.queue.Len() }

// Dropped returns the number of calls dropped before delivery.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Drained returns the number of calls replayed by Drain.
func (b *Bridge) Drained() uint64 { return b.drained.Load() }

// Failed returns the number of replayed calls whose target returned an
// error.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }

// Close stops a Queued bridge from accepting calls. Already queued calls
// can still be drained.
func (b *Bridge) Close() { b.queue.Close() }

// Stats is a snapshot of bridge counters.
type Stats struct {
	Name    string `json:"name"`
	Shape   string `json:"shape"`
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
	Drained uint64 `json:"drained"`
	Failed  uint64 `json:"failed"`
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Name:    b.name,
		Shape:   b.shape.String(),
		Pending: b.Pending(),
		Dropped: b.Dropped(),
		Drained: b.Drained(),
		Failed:  b.Failed(),
	}
}
