package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/engine"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/script"
	"github.com/spring/spring-sub006/internal/store"
	"github.com/spring/spring-sub006/internal/testutil"
	"github.com/spring/spring-sub006/internal/vfs"
)

// Harness runs one scenario.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	registry *events.Registry
	profiles map[handle.Kind]handle.Profile
	clock    *testutil.DeterministicClock
	result   *Result
	logger   *slog.Logger
}

// Run executes a scenario in a fresh engine backed by an in-memory store.
// A returned error means the scenario could not be set up; failed
// expectations and assertions are reported in the Result.
func Run(s *Scenario) (*Result, error) {
	return RunContext(context.Background(), s)
}

// RunContext is Run with a context passed to every call-in.
func RunContext(ctx context.Context, s *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: s,
		store:    st,
		registry: events.DefaultRegistry(),
		clock:    testutil.NewDeterministicClock(),
		result:   NewResult(),
		logger:   testutil.Discard(),
	}
	h.profiles = make(map[handle.Kind]handle.Profile, len(handle.Kinds))
	for _, k := range handle.Kinds {
		p, _ := handle.ProfileFor(k)
		h.profiles[k] = p
	}
	if s.Manifest != "" {
		if err := h.loadManifest(); err != nil {
			return nil, err
		}
	}

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	h.engine = engine.New(h.fs(),
		engine.WithLogger(h.logger),
		engine.WithSeed(seed),
		engine.WithThreaded(s.Threaded),
		engine.WithDevMode(s.DevMode),
		engine.WithFaultBudget(s.FaultBudget),
		engine.WithSyncInterval(s.SyncInterval),
		engine.WithStore(st),
		engine.WithRegistry(h.registry),
		engine.WithNamespaces(h.namespaces()),
		engine.WithIDs(engine.NewSequenceGenerator("inst")),
	)

	for _, name := range s.Handles {
		k, _ := handle.ParseKind(name)
		if _, err := h.engine.LoadProfile(h.profiles[k]); err != nil {
			h.engine.Close()
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	for i, step := range s.Steps {
		h.execute(ctx, i, step)
	}

	for _, inst := range h.engine.Instances() {
		h.result.Loaded = append(h.result.Loaded, inst.Handle.Name())
	}
	h.engine.Close()

	faults, err := st.Faults(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read faults: %w", err)
	}
	for _, f := range faults {
		h.result.Faults[f.Handle]++
	}

	for _, msg := range EvaluateAssertions(h.result, s.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) loadManifest() error {
	m, err := compiler.Load(h.scenario.Manifest)
	if err != nil {
		return fmt.Errorf("failed to compile manifest: %w", err)
	}
	if h.registry, err = compiler.Registry(m); err != nil {
		return err
	}
	if h.profiles, err = compiler.Profiles(m); err != nil {
		return err
	}
	return nil
}

func (h *Harness) fs() *vfs.FS {
	roots := []vfs.Root{{Source: vfs.SourceMod, FS: testutil.MapTree(h.scenario.Files), Name: "scenario"}}
	if h.scenario.Root != "" {
		roots = append(roots, vfs.Root{Source: vfs.SourceMod, FS: os.DirFS(h.scenario.Root), Name: h.scenario.Root})
	}
	return vfs.New(vfs.Options{Roots: roots})
}

// namespaces registers Spring.Echo, which records its arguments joined by
// spaces as one trace event.
func (h *Harness) namespaces() *script.Namespaces {
	ns := script.NewNamespaces()
	ns.RegisterBound(script.NamespaceSpring, "Echo", func(host *script.Host) lua.LGFunction {
		return func(L *lua.LState) int {
			parts := make([]string, L.GetTop())
			for i := range parts {
				parts[i] = L.Get(i + 1).String()
			}
			h.record(host, strings.Join(parts, " "))
			return 0
		}
	}, script.AvailBoth)
	return ns
}

func (h *Harness) record(host *script.Host, line string) {
	r := h.result
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    h.clock.Next(),
		Frame:  h.engine.Frame(),
		Handle: host.Name(),
		Synced: host.Synced(),
		Line:   line,
	})
}

// threadFor picks the thread an event is fired from.
func (h *Harness) threadFor(ctx context.Context, event string) context.Context {
	if h.registry.IsUnsynced(event) {
		return script.WithThread(ctx, engine.ThreadRender)
	}
	return script.WithThread(ctx, engine.ThreadSim)
}

func (h *Harness) execute(ctx context.Context, i int, step Step) {
	fail := func(format string, args ...any) {
		h.result.AddError(fmt.Sprintf("steps[%d] %s: ", i, step.Action()) + fmt.Sprintf(format, args...))
	}
	kind := func(name string) handle.Kind {
		k, _ := handle.ParseKind(name)
		return k
	}
	expectFailure := func(err error) {
		switch {
		case err != nil && !step.Fails:
			fail("%v", err)
		case err == nil && step.Fails:
			fail("expected failure, got none")
		}
	}

	expect := func(event string, got bool) {
		if step.Expect != nil && got != *step.Expect {
			fail("%s answered %t, expected %t", event, got, *step.Expect)
		}
	}

	switch step.Action() {
	case "frames":
		for range step.Frames {
			h.engine.Step(ctx)
		}
	case "notify":
		h.engine.Dispatcher().Notify(h.threadFor(ctx, step.Notify), step.Notify, step.Args...)
	case "allow":
		got := h.engine.Dispatcher().AllowAll(h.threadFor(ctx, step.Allow), step.Allow, step.Args...)
		expect(step.Allow, got)
	case "respond":
		_, got := h.engine.Dispatcher().Respond(h.threadFor(ctx, step.Respond), step.Respond, step.Args...)
		expect(step.Respond, got)
	case "fire":
		expect(step.Fire, h.engine.Dispatcher().Fire(h.threadFor(ctx, step.Fire), step.Fire, step.Args...))
	case "press":
		expect(events.MousePress, h.engine.Dispatcher().MousePress(h.threadFor(ctx, events.MousePress), step.Args...))
	case "move":
		expect(events.MouseMove, h.engine.Dispatcher().MouseMove(h.threadFor(ctx, events.MouseMove), step.Args...))
	case "release":
		expect(events.MouseRelease, h.engine.Dispatcher().MouseRelease(h.threadFor(ctx, events.MouseRelease), step.Args...))
	case "load":
		_, err := h.engine.LoadProfile(h.profiles[kind(step.Load)])
		expectFailure(err)
	case "unload":
		expectFailure(h.engine.Unload(kind(step.Unload)))
	case "reload":
		_, err := h.engine.Reload(kind(step.Reload))
		expectFailure(err)
	case "kill":
		h.engine.RequestKill(kind(step.Kill), "scenario")
	case "flush":
		h.engine.Flush(ctx)
	case "checkpoint":
		if _, err := h.engine.Checkpoint(ctx); err != nil {
			fail("%v", err)
		}
	case "verify":
		answers, err := h.engine.Verify(ctx)
		if err != nil {
			fail("%v", err)
			return
		}
		if step.Expect == nil {
			return
		}
		for name, ok := range answers {
			if ok != *step.Expect {
				fail("%s answered %t, expected %t", name, ok, *step.Expect)
			}
		}
	}
}
