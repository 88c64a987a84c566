package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/script"
	"github.com/spring/spring-sub006/internal/store"
	"github.com/spring/spring-sub006/internal/vfs"
)

// Thread tags of the two frame loops.
const (
	ThreadSim    = script.ThreadSim
	ThreadRender = script.ThreadRender
)

// Store is the persistence the engine writes to. Implemented by
// *store.Store.
type Store interface {
	SaveSyncData(ctx context.Context, handle string, frame int64, data []byte) (string, error)
	LatestSyncData(ctx context.Context, handle string) (store.SyncData, error)
	RecordFault(ctx context.Context, f store.Fault) (int64, error)
}

// Options configure an Engine.
type Options struct {
	// Threaded runs the sim and render phases on separate goroutines with
	// queued bridges. Fixed for the engine's lifetime.
	Threaded bool

	// DevMode lets handles load raw files ahead of archives.
	DevMode bool

	// Seed seeds every synced state's math.random.
	Seed uint64

	// Teams resolves team IDs; Team is the local player's team.
	Teams capability.Teams
	Team  int

	// FaultBudget is the number of fatal errors a handle may raise before
	// it is killed. Default: DefaultFaultBudget. Negative disables.
	FaultBudget int

	// SyncInterval checkpoints sync data every SyncInterval frames. 0
	// disables automatic checkpoints.
	SyncInterval int64

	// FrameRate paces Run in frames per second. 0 runs unpaced.
	FrameRate int

	Registry   *events.Registry
	Namespaces *script.Namespaces
	Store      Store
	IDs        IDGenerator
	Logger     *slog.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Options)

// WithOptions replaces every option at once. Later options still apply.
func WithOptions(o Options) EngineOption {
	return func(dst *Options) { *dst = o }
}

// WithThreaded selects the two-goroutine frame loop.
func WithThreaded(threaded bool) EngineOption {
	return func(o *Options) { o.Threaded = threaded }
}

// WithDevMode enables raw-first source loading.
func WithDevMode(dev bool) EngineOption {
	return func(o *Options) { o.DevMode = dev }
}

// WithSeed sets the synced RNG seed.
func WithSeed(seed uint64) EngineOption {
	return func(o *Options) { o.Seed = seed }
}

// WithTeams sets the team roster and the local team.
func WithTeams(teams capability.Teams, team int) EngineOption {
	return func(o *Options) {
		o.Teams = teams
		o.Team = team
	}
}

// WithFaultBudget sets the fatal error budget per handle.
//
// Default: 10 (DefaultFaultBudget). Use a negative value for no limit.
func WithFaultBudget(n int) EngineOption {
	return func(o *Options) { o.FaultBudget = n }
}

// WithSyncInterval checkpoints sync data every n frames.
func WithSyncInterval(n int64) EngineOption {
	return func(o *Options) { o.SyncInterval = n }
}

// WithFrameRate paces Run.
func WithFrameRate(fps int) EngineOption {
	return func(o *Options) { o.FrameRate = fps }
}

// WithStore records faults and sync data in s.
func WithStore(s Store) EngineOption {
	return func(o *Options) { o.Store = s }
}

// WithIDs sets the instance ID generator.
func WithIDs(ids IDGenerator) EngineOption {
	return func(o *Options) { o.IDs = ids }
}

// WithNamespaces sets the engine namespaces installed into every state.
func WithNamespaces(ns *script.Namespaces) EngineOption {
	return func(o *Options) { o.Namespaces = ns }
}

// WithRegistry sets the event table.
func WithRegistry(reg *events.Registry) EngineOption {
	return func(o *Options) { o.Registry = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *Options) { o.Logger = l }
}

// Instance is one loaded handle.
type Instance struct {
	// ID is unique per load; a reloaded handle gets a new one.
	ID       string
	Handle   *handle.Handle
	Budget   *FaultBudget
	LoadedAt int64
}

// Engine owns the dispatcher and the loaded handles and runs the frame
// loop.
//
// Thread-safety model:
//   - Load, Unload, Reload, Step, Run, Checkpoint, Verify and Close must be
//     called from one goroutine (the owner)
//   - RequestKill, Stop, Instances, Instance and Frame are safe from any
//     goroutine, including from inside call-ins
type Engine struct {
	opts  Options
	fs    *vfs.FS
	log   *slog.Logger
	disp  *events.Dispatcher
	clock *Clock

	// deferred holds call-ins that arrived on the wrong thread, keyed by
	// the thread that must replay them.
	deferred map[script.Thread]*bridge.Bridge

	mu        sync.Mutex
	instances map[handle.Kind]*Instance
	kills     []killRequest
	posted    map[script.Thread][]postedEvent

	stopOnce sync.Once
	stop     chan struct{}
}

// postedEvent is an event raised outside the frame loop.
type postedEvent struct {
	name string
	args []any
}

type killRequest struct {
	kind   handle.Kind
	id     string
	reason string
}

// New creates an Engine reading scripts from fsys.
func New(fsys *vfs.FS, opts ...EngineOption) *Engine {
	o := Options{FaultBudget: DefaultFaultBudget}
	for _, opt := range opts {
		opt(&o)
	}
	if o.FaultBudget == 0 {
		o.FaultBudget = DefaultFaultBudget
	}
	if o.Registry == nil {
		o.Registry = events.DefaultRegistry()
	}
	if o.Namespaces == nil {
		o.Namespaces = script.NewNamespaces()
	}
	if o.Teams == nil {
		o.Teams = capability.Roster{}
	}
	if o.IDs == nil {
		o.IDs = UUIDv7Generator{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	e := &Engine{
		opts:      o,
		fs:        fsys,
		log:       o.Logger,
		disp:      events.NewDispatcher(o.Registry),
		clock:     NewClock(),
		deferred:  make(map[script.Thread]*bridge.Bridge),
		instances: make(map[handle.Kind]*Instance),
		posted:    make(map[script.Thread][]postedEvent),
		stop:      make(chan struct{}),
	}
	for _, t := range []script.Thread{ThreadSim, ThreadRender} {
		e.deferred[t] = bridge.New("deferred-"+t.String(), bridge.Queued, o.Logger)
	}
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Dispatcher returns the event dispatcher handles register with.
func (e *Engine) Dispatcher() *events.Dispatcher { return e.disp }

// Frame returns the number of the last frame stepped.
func (e *Engine) Frame() int64 { return e.clock.Current() }

// FS returns the engine's file system.
func (e *Engine) FS() *vfs.FS { return e.fs }

// threads returns the thread tags of the synced and unsynced halves.
func (e *Engine) threads() (synced, unsynced script.Thread) {
	if e.opts.Threaded {
		return ThreadSim, ThreadRender
	}
	return script.ThreadAny, script.ThreadAny
}

// Load constructs the handle of kind and registers it with the dispatcher.
func (e *Engine) Load(kind handle.Kind) (*Instance, error) {
	profile, ok := handle.ProfileFor(kind)
	if !ok {
		return nil, hostError(ErrCodeLoadFailed, kind.String(), fmt.Errorf("unknown handle kind %v", kind))
	}
	return e.LoadProfile(profile)
}

// LoadProfile is Load with an explicit profile.
func (e *Engine) LoadProfile(profile handle.Profile) (*Instance, error) {
	e.mu.Lock()
	if _, ok := e.instances[profile.Kind]; ok {
		e.mu.Unlock()
		return nil, hostError(ErrCodeAlreadyLoaded, profile.Name, nil)
	}
	e.mu.Unlock()

	shape := bridge.Direct
	if e.opts.Threaded {
		shape = bridge.Queued
	}
	syncedThread, unsyncedThread := e.threads()

	inst := &Instance{
		ID:       e.opts.IDs.Generate(),
		Budget:   NewFaultBudget(e.opts.FaultBudget),
		LoadedAt: e.clock.Current(),
	}
	var deferrer script.Deferrer
	if e.opts.Threaded {
		deferrer = e
	}

	h, err := handle.New(handle.Options{
		Kind:           profile.Kind,
		Profile:        &profile,
		FS:             e.fs,
		DevMode:        e.opts.DevMode,
		Seed:           e.opts.Seed,
		Teams:          e.opts.Teams,
		Team:           e.opts.Team,
		Registry:       e.opts.Registry,
		Dispatcher:     e.disp,
		Namespaces:     e.opts.Namespaces,
		Bridge:         bridge.New(profile.Name, shape, e.log),
		SyncedThread:   syncedThread,
		UnsyncedThread: unsyncedThread,
		Deferrer:       deferrer,
		OnKillRequest: func(_ *handle.Handle, reason string) {
			e.requestKill(profile.Kind, inst.ID, reason)
		},
		OnFault: func(h *handle.Handle, half *script.Host, ce *script.CallError) {
			e.fault(inst, h, half, ce)
		},
		Logger: e.log,
	})
	if err != nil {
		e.log.Error("handle load failed", "handle", profile.Name, "error", err)
		return nil, hostError(ErrCodeLoadFailed, profile.Name, err)
	}
	inst.Handle = h

	e.mu.Lock()
	e.instances[profile.Kind] = inst
	e.mu.Unlock()

	e.log.Info("handle loaded",
		"handle", profile.Name,
		"id", inst.ID,
		"frame", inst.LoadedAt,
		"threaded", e.opts.Threaded,
	)
	return inst, nil
}

// Instance returns the loaded handle of kind.
func (e *Engine) Instance(kind handle.Kind) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[kind]
	return inst, ok
}

// Instances returns the loaded handles in dispatch order.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	out := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Handle.Profile(), out[j].Handle.Profile()
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	return out
}

// Unload kills the handle of kind. It fails with a REENTRANT HostError
// when called from inside one of the handle's call-ins; use RequestKill
// there instead.
func (e *Engine) Unload(kind handle.Kind) error {
	inst, ok := e.Instance(kind)
	if !ok {
		return hostError(ErrCodeNotLoaded, kind.String(), nil)
	}
	if err := inst.Handle.Kill(); err != nil {
		if errors.Is(err, script.ErrReentrant) {
			return hostError(ErrCodeReentrant, inst.Handle.Name(), err)
		}
		return err
	}
	inst.Handle.Bridge().Close()

	e.mu.Lock()
	if e.instances[kind] == inst {
		delete(e.instances, kind)
	}
	e.mu.Unlock()
	return nil
}

// Reload unloads the handle of kind, if loaded, and loads it again.
func (e *Engine) Reload(kind handle.Kind) (*Instance, error) {
	if err := e.Unload(kind); err != nil && !IsNotLoadedError(err) {
		return nil, err
	}
	return e.Load(kind)
}

// RequestKill schedules the handle of kind to be killed at the next safe
// point. Safe from any goroutine and from inside call-ins.
func (e *Engine) RequestKill(kind handle.Kind, reason string) {
	inst, ok := e.Instance(kind)
	if !ok {
		return
	}
	e.requestKill(kind, inst.ID, reason)
}

func (e *Engine) requestKill(kind handle.Kind, id, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.kills {
		if k.id == id {
			return
		}
	}
	e.kills = append(e.kills, killRequest{kind: kind, id: id, reason: reason})
	e.log.Info("handle kill requested", "kind", kind.String(), "id", id, "reason", reason)
}

// PendingKills returns the number of kill requests awaiting a safe point.
func (e *Engine) PendingKills() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.kills)
}

// processKills carries out the queued kill requests. Requests for an
// instance that has since been replaced are dropped.
func (e *Engine) processKills() {
	e.mu.Lock()
	kills := e.kills
	e.kills = nil
	e.mu.Unlock()

	for _, k := range kills {
		inst, ok := e.Instance(k.kind)
		if !ok || inst.ID != k.id {
			continue
		}
		if err := e.Unload(k.kind); err != nil {
			e.log.Error("handle kill failed", "handle", inst.Handle.Name(), "error", err)
			continue
		}
		e.log.Info("handle disabled", "handle", inst.Handle.Name(), "id", inst.ID, "reason", k.reason)
	}
}

// fault records a failed call-in and charges fatal ones to the budget.
func (e *Engine) fault(inst *Instance, h *handle.Handle, half *script.Host, ce *script.CallError) {
	frame := e.clock.Current()
	if e.opts.Store != nil {
		_, err := e.opts.Store.RecordFault(context.Background(), store.Fault{
			HandleID:   inst.ID,
			Handle:     h.Name(),
			Frame:      frame,
			Synced:     half.Synced(),
			Func:       ce.Func,
			Message:    ce.Message,
			Trace:      ce.Trace,
			Fatal:      ce.Fatal,
			Capability: h.Capability(half.Synced()),
		})
		if err != nil {
			e.log.Error("fault not recorded", "handle", h.Name(), "error", err)
		}
	}
	if !ce.Fatal {
		return
	}
	if err := inst.Budget.Charge(h.Name()); err != nil {
		e.log.Error("fault budget exhausted", "handle", h.Name(), "frame", frame, "error", err)
		e.requestKill(h.Kind(), inst.ID, err.Error())
	}
}

// Post queues event to be fired by its dispatch policy during the next
// phase of its thread: unsynced events in render, all others in sim. Safe
// from any goroutine.
func (e *Engine) Post(event string, args ...any) {
	t := ThreadSim
	if e.opts.Registry.IsUnsynced(event) {
		t = ThreadRender
	}
	e.mu.Lock()
	e.posted[t] = append(e.posted[t], postedEvent{name: event, args: args})
	e.mu.Unlock()
}

// firePosted fires and clears the events posted for the thread on ctx.
func (e *Engine) firePosted(ctx context.Context, t script.Thread) int {
	e.mu.Lock()
	queue := e.posted[t]
	e.posted[t] = nil
	e.mu.Unlock()
	for _, ev := range queue {
		e.disp.Fire(ctx, ev.name, ev.args...)
	}
	return len(queue)
}

// Defer implements script.Deferrer: the call-in is queued for the host's
// own thread and replayed during its next phase.
func (e *Engine) Defer(ctx context.Context, h *script.Host, event string, args []any) {
	b, ok := e.deferred[h.Thread()]
	if !ok {
		return
	}
	target := func(ctx context.Context, vals []bridge.Value) ([]bridge.Value, error) {
		replay := make([]any, len(vals))
		for i, v := range vals {
			replay[i] = v
		}
		h.CallIn(ctx, event, replay, false)
		return nil, nil
	}
	if _, err := b.SendGo(ctx, event, target, args); err != nil {
		e.log.Debug("deferred call-in dropped", "host", h.Name(), "event", event, "error", err)
	}
}

// Checkpoint asks every loaded synced half for its sync data and stores it
// under the current frame. Returns the digests by handle name.
func (e *Engine) Checkpoint(ctx context.Context) (map[string]string, error) {
	if e.opts.Store == nil {
		return nil, errors.New("engine: no store configured")
	}
	ctx = script.WithThread(ctx, ThreadSim)
	frame := e.clock.Current()
	out := make(map[string]string)
	for _, inst := range e.Instances() {
		data, ok := inst.Handle.GetSyncData(ctx)
		if !ok {
			continue
		}
		sum, err := e.opts.Store.SaveSyncData(ctx, inst.Handle.Name(), frame, []byte(data))
		if err != nil {
			return out, fmt.Errorf("checkpoint %s: %w", inst.Handle.Name(), err)
		}
		out[inst.Handle.Name()] = sum
		e.log.Debug("sync data saved", "handle", inst.Handle.Name(), "frame", frame, "bytes", len(data))
	}
	return out, nil
}

// Verify hands each loaded synced half the latest stored sync data and
// returns its CheckSyncData answers by handle name. Handles without stored
// data are skipped.
func (e *Engine) Verify(ctx context.Context) (map[string]bool, error) {
	if e.opts.Store == nil {
		return nil, errors.New("engine: no store configured")
	}
	ctx = script.WithThread(ctx, ThreadSim)
	out := make(map[string]bool)
	for _, inst := range e.Instances() {
		if !inst.Handle.Profile().HasSynced() {
			continue
		}
		d, err := e.opts.Store.LatestSyncData(ctx, inst.Handle.Name())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("verify %s: %w", inst.Handle.Name(), err)
		}
		out[inst.Handle.Name()] = inst.Handle.CheckSyncData(ctx, string(d.Data))
	}
	return out, nil
}

// Close calls every half's Shutdown call-in, kills every handle and
// releases the queues.
func (e *Engine) Close() {
	e.Stop()
	e.drainDeferred(context.Background())

	for _, inst := range e.Instances() {
		for _, host := range inst.Handle.Halves() {
			ctx := context.Background()
			if t := host.Thread(); t != script.ThreadAny {
				ctx = script.WithThread(ctx, t)
			}
			host.CallIn(ctx, events.Shutdown, nil, false)
		}
		if err := e.Unload(inst.Handle.Kind()); err != nil {
			e.log.Error("handle unload failed", "handle", inst.Handle.Name(), "error", err)
		}
	}
	for _, b := range e.deferred {
		b.Close()
	}
}
