package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			half := "unsynced"
			if ev.Synced {
				half = "synced"
			}
			fmt.Fprintf(&buf, "  [%d] f%d %s/%s: %s\n", ev.Seq, ev.Frame, ev.Handle, half, ev.Line)
		}
	}
	return buf.String()
}

// matching returns the trace events a trace assertion looks at.
func matching(trace []TraceEvent, a Assertion) []TraceEvent {
	if a.Handle == "" {
		return trace
	}
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Handle == a.Handle {
			out = append(out, ev)
		}
	}
	return out
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range matching(trace, a) {
		if ev.Line == a.Line {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("line %q%s", a.Line, from(a)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines appear in order. Other lines may
// appear between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := matching(trace, a)
	pos := 0
	for _, want := range a.Lines {
		found := false
		for pos < len(events) {
			pos++
			if events[pos-1].Line == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order%s: %q", from(a), a.Lines),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range matching(trace, a) {
		if ev.Line == a.Line {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %q%s", a.Count, a.Line, from(a)),
			Actual:   fmt.Sprintf("%d occurrences", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertLoaded(loaded []string, a Assertion) error {
	want := a.Handles
	if want == nil {
		want = []string{}
	}
	got := loaded
	if got == nil {
		got = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertLoaded,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

func assertFaultCount(faults map[string]int, a Assertion) error {
	if n := faults[a.Handle]; n != a.Count {
		return &AssertionError{
			Type:     AssertFaultCount,
			Expected: fmt.Sprintf("%d faults for %s", a.Count, a.Handle),
			Actual:   fmt.Sprintf("%d faults", n),
		}
	}
	return nil
}

func from(a Assertion) string {
	if a.Handle == "" {
		return ""
	}
	return " from " + a.Handle
}

// EvaluateAssertions evaluates every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertLoaded:
			err = assertLoaded(result.Loaded, a)
		case AssertFaultCount:
			err = assertFaultCount(result.Faults, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
