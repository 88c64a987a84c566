package script

import "context"

// Thread identifies the goroutine a host is bound to.
type Thread uint8

const (
	ThreadAny Thread = iota
	ThreadSim
	ThreadRender
)

func (t Thread) String() string {
	switch t {
	case ThreadSim:
		return "sim"
	case ThreadRender:
		return "render"
	}
	return "any"
}

type threadKey struct{}

// WithThread tags ctx with the thread the caller runs on.
func WithThread(ctx context.Context, t Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread tag carried by ctx.
func ThreadFrom(ctx context.Context) (Thread, bool) {
	if ctx == nil {
		return ThreadAny, false
	}
	t, ok := ctx.Value(threadKey{}).(Thread)
	return t, ok
}

// Deferrer receives call-ins that arrive on the wrong thread. The call-in
// must be replayed later on the host's own thread.
type Deferrer interface {
	Defer(ctx context.Context, h *Host, event string, args []any)
}
