package harness

import (
	"sync"

	"github.com/spring/spring-sub006/internal/ir"
)

// TraceEvent is one Spring.Echo call seen during a run.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Frame  int64  `json:"frame"`
	Handle string `json:"handle"`
	Synced bool   `json:"synced"`
	Line   string `json:"line"`
}

func (e TraceEvent) object() ir.Object {
	return ir.Object{
		"seq":    ir.Int(e.Seq),
		"frame":  ir.Int(e.Frame),
		"handle": ir.String(e.Handle),
		"synced": ir.Bool(e.Synced),
		"line":   ir.String(e.Line),
	}
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Loaded lists the handle names loaded after the last step, in
	// dispatch order.
	Loaded []string `json:"loaded"`

	// Faults counts stored faults by handle name.
	Faults map[string]int `json:"faults,omitempty"`

	mu sync.Mutex
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Faults: make(map[string]int),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines returns the trace lines in order.
func (r *Result) Lines() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.Line
	}
	return out
}
