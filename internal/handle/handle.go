package handle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/script"
	"github.com/spring/spring-sub006/internal/vfs"
)

var (
	// ErrNoSource is returned when neither half has any source.
	ErrNoSource = errors.New("handle: no source")

	// ErrNoCallIns is returned when neither half defines a call-in.
	ErrNoCallIns = errors.New("handle: no call-ins defined")
)

// syncedStripped are removed from the synced state before any script runs.
var syncedStripped = []string{
	"dofile", "loadfile", "rawget", "rawset", "collectgarbage",
	"getfenv", "setfenv", "newproxy",
}

// Options configure New.
type Options struct {
	Kind Kind
	// Profile overrides the default profile of Kind when non-nil.
	Profile *Profile

	FS      *vfs.FS
	DevMode bool
	Seed    uint64
	Teams   capability.Teams
	// Team is the team UI-like handles read as, and Gaia controls.
	Team int

	Registry   *events.Registry
	Dispatcher *events.Dispatcher
	Namespaces *script.Namespaces

	// Bridge carries synced -> unsynced traffic. Nil creates a Direct one.
	Bridge         *bridge.Bridge
	SyncedThread   script.Thread
	UnsyncedThread script.Thread
	Deferrer       script.Deferrer

	// OnKillRequest is called when a script asks to be killed.
	OnKillRequest func(h *Handle, reason string)
	// OnFault is called for every failed call-in of either half.
	OnFault func(h *Handle, half *script.Host, err *script.CallError)

	Logger *slog.Logger
}

// half is one Lua state of a handle and its capability guard.
type half struct {
	host  *script.Host
	guard *capability.Guard
}

// Handle is a loaded dual-state script handle.
type Handle struct {
	profile Profile
	opts    Options
	log     *slog.Logger

	synced   *half
	unsynced *half

	bridge *bridge.Bridge
	rng    *SyncedRNG

	mu         sync.Mutex
	shared     map[string]*lua.LFunction
	registered bool
	killed     bool
}

// New loads both halves of a handle and, when everything succeeded,
// registers them with the dispatcher.
func New(opts Options) (*Handle, error) {
	profile, ok := ProfileFor(opts.Kind)
	if opts.Profile != nil {
		profile, ok = *opts.Profile, true
	}
	if !ok {
		return nil, fmt.Errorf("handle: unknown kind %v", opts.Kind)
	}
	if opts.FS == nil {
		return nil, errors.New("handle: no file system")
	}
	if opts.Registry == nil {
		if opts.Dispatcher != nil {
			opts.Registry = opts.Dispatcher.Registry()
		} else {
			opts.Registry = events.DefaultRegistry()
		}
	}
	if opts.Teams == nil {
		opts.Teams = capability.Roster{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handle{
		profile: profile,
		opts:    opts,
		log:     logger.With("handle", profile.Name, "kind", profile.Kind.String()),
		bridge:  opts.Bridge,
		rng:     NewSyncedRNG(opts.Seed),
		shared:  make(map[string]*lua.LFunction),
	}
	if h.bridge == nil {
		h.bridge = bridge.New(profile.Name, bridge.Direct, logger)
	}

	syncedMode, unsyncedMode := profile.Modes(opts.DevMode)
	syncedSrc, err := h.readSource(profile.HasSynced(), profile.SyncedPath(), syncedMode)
	if err != nil {
		return nil, err
	}
	unsyncedSrc, err := h.readSource(profile.UnsyncedFile != "", profile.UnsyncedPath(), unsyncedMode)
	if err != nil {
		return nil, err
	}
	if syncedSrc == "" && unsyncedSrc == "" {
		return nil, fmt.Errorf("%s: %w", profile.Name, ErrNoSource)
	}

	initial := h.initialCapability()
	if syncedSrc != "" {
		h.synced = &half{guard: capability.NewGuard(initial)}
		host, err := script.NewHost(h.hostOptions(true, syncedMode))
		if err != nil {
			return nil, err
		}
		h.synced.host = host
		if err := host.Exec(syncedSrc, profile.SyncedPath()); err != nil {
			h.closeHalves()
			return nil, fmt.Errorf("%s synced: %w", profile.Name, err)
		}
	}
	if unsyncedSrc != "" {
		h.unsynced = &half{guard: capability.NewGuard(initial)}
		host, err := script.NewHost(h.hostOptions(false, unsyncedMode))
		if err != nil {
			h.closeHalves()
			return nil, err
		}
		h.unsynced.host = host
		if err := host.Exec(unsyncedSrc, profile.UnsyncedPath()); err != nil {
			h.closeHalves()
			return nil, fmt.Errorf("%s unsynced: %w", profile.Name, err)
		}
	}

	if !h.definesCallIns() {
		h.closeHalves()
		return nil, fmt.Errorf("%s: %w", profile.Name, ErrNoCallIns)
	}

	if opts.Dispatcher != nil {
		for _, host := range h.Halves() {
			opts.Dispatcher.AddClient(host)
		}
		h.registered = true
	}
	h.log.Info("handle loaded", "synced", h.synced != nil, "unsynced", h.unsynced != nil)
	return h, nil
}

// readSource returns the source at p, or "" when the half is absent or the
// file does not exist.
func (h *Handle) readSource(want bool, p string, mode vfs.Mode) (string, error) {
	if !want {
		return "", nil
	}
	data, err := h.opts.FS.ReadFile(p, mode)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		h.log.Debug("no source", "path", p, "mode", string(mode), "error", err)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: read %s: %w", h.profile.Name, p, err)
	}
	return string(data), nil
}

func (h *Handle) initialCapability() capability.Context {
	c := h.profile.Capability
	switch h.profile.Kind {
	case Gaia:
		c = c.WithCtrl(h.opts.Team).WithSelect(h.opts.Team)
		c.FullRead = true
		c.ReadTeam = capability.AllAccessTeam
		c.ReadAllyTeam = capability.AllAccessTeam
	case UI:
		c = c.WithRead(h.opts.Teams, h.opts.Team).WithSelect(h.opts.Team)
	}
	return c
}

func (h *Handle) hostOptions(synced bool, mode vfs.Mode) script.Options {
	name := h.profile.Name
	thread := h.opts.UnsyncedThread
	if synced {
		thread = h.opts.SyncedThread
	}
	o := script.Options{
		Name:         name,
		Order:        h.profile.Order,
		Synced:       synced,
		User:         h.profile.User,
		Thread:       thread,
		Deferrer:     h.opts.Deferrer,
		FS:           h.opts.FS,
		ReadMode:     mode,
		AllowedModes: mode,
		Namespaces:   h.opts.Namespaces,
		Logger:       h.log,
		Hooks: script.Hooks{
			UpdateCallIn: h.updateCallIn,
			RequestKill: func(_ *script.Host, reason string) {
				if h.opts.OnKillRequest != nil {
					h.opts.OnKillRequest(h, reason)
				}
			},
			Fault: func(host *script.Host, err *script.CallError) {
				if h.opts.OnFault != nil {
					h.opts.OnFault(h, host, err)
				}
			},
		},
	}
	if synced {
		o.Hooks.Setup = h.setupSynced
	} else {
		o.Hooks.Setup = h.setupUnsynced
		o.Hooks.PostLoad = h.rebindUnsynced
	}
	return o
}

func (h *Handle) setupSynced(host *script.Host) error {
	L := host.State()
	env := host.Env()
	for _, name := range syncedStripped {
		env.RawSetString(name, lua.LNil)
	}
	if m, ok := env.RawGetString("math").(*lua.LTable); ok {
		h.rng.Install(L, m)
	}
	env.RawSetString("SendToUnsynced", L.NewFunction(h.luaSendToUnsynced))
	env.RawSetString("CallAsTeam", L.NewFunction(h.luaCallAsTeam))
	L.SetFuncs(subTable(L, env, "Script"), map[string]lua.LGFunction{
		"CallUnsynced": h.luaCallUnsynced,
	})
	h.installCapabilityGetters(L, env, h.synced.guard)
	return nil
}

func (h *Handle) setupUnsynced(host *script.Host) error {
	L := host.State()
	env := buildUnsyncedEnv(host)
	L.SetFuncs(subTable(L, env, "Script"), map[string]lua.LGFunction{
		"AddSharedFunction":    h.luaAddShared,
		"RemoveSharedFunction": h.luaRemoveShared,
	})
	h.installCapabilityGetters(L, env, h.unsynced.guard)
	return nil
}

// rebindUnsynced makes sure every unsynced call-in and RecvFromSynced run
// with UNSYNCED as their environment.
func (h *Handle) rebindUnsynced(host *script.Host) error {
	names := []string{events.RecvFromSynced}
	for _, name := range h.opts.Registry.Names() {
		if h.opts.Registry.IsUnsynced(name) {
			names = append(names, name)
		}
	}
	rebind(host, host.Env(), names)
	return nil
}

func subTable(L *lua.LState, into *lua.LTable, name string) *lua.LTable {
	if t, ok := into.RawGetString(name).(*lua.LTable); ok {
		return t
	}
	t := L.NewTable()
	into.RawSetString(name, t)
	return t
}

// definesCallIns reports whether either half defines a function named
// after a known event.
func (h *Handle) definesCallIns() bool {
	names := h.opts.Registry.Names()
	for _, host := range h.Halves() {
		if len(host.CallIns(names)) > 0 {
			return true
		}
	}
	return false
}

func (h *Handle) closeHalves() {
	for _, hf := range []*half{h.synced, h.unsynced} {
		if hf != nil && hf.host != nil {
			_ = hf.host.Kill()
		}
	}
}

func (h *Handle) updateCallIn(host *script.Host, name string) bool {
	if h.opts.Dispatcher == nil {
		return host.HasCallIn(name)
	}
	return h.opts.Dispatcher.UpdateClient(host, name)
}

// Name returns the profile name.
func (h *Handle) Name() string { return h.profile.Name }

// Kind returns the handle kind.
func (h *Handle) Kind() Kind { return h.profile.Kind }

// Profile returns the profile the handle was built from.
func (h *Handle) Profile() Profile { return h.profile }

// Synced returns the synced half, or nil.
func (h *Handle) Synced() *script.Host {
	if h.synced == nil {
		return nil
	}
	return h.synced.host
}

// Unsynced returns the unsynced half, or nil.
func (h *Handle) Unsynced() *script.Host {
	if h.unsynced == nil {
		return nil
	}
	return h.unsynced.host
}

// Halves returns the existing halves, synced first.
func (h *Handle) Halves() []*script.Host {
	var out []*script.Host
	for _, hf := range []*half{h.synced, h.unsynced} {
		if hf != nil && hf.host != nil {
			out = append(out, hf.host)
		}
	}
	return out
}

// Bridge returns the synced -> unsynced bridge.
func (h *Handle) Bridge() *bridge.Bridge { return h.bridge }

// RNG returns the synced random number generator.
func (h *Handle) RNG() *SyncedRNG { return h.rng }

// Capability returns the current capability context of a half.
func (h *Handle) Capability(synced bool) capability.Context {
	hf := h.unsynced
	if synced {
		hf = h.synced
	}
	if hf == nil {
		return capability.None()
	}
	return hf.guard.Current()
}

// SharedFunctions returns the sorted names in the shared registry.
func (h *Handle) SharedFunctions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.shared))
	for name := range h.shared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Killed reports whether Kill completed.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Running reports whether a call-in of either half is on the stack.
func (h *Handle) Running() bool {
	for _, host := range h.Halves() {
		if host.Running() {
			return true
		}
	}
	return false
}

// Kill unregisters both halves and closes their states. It fails with
// script.ErrReentrant while either half is running a call-in.
func (h *Handle) Kill() error {
	if h.Running() {
		return script.ErrReentrant
	}
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	registered := h.registered
	h.registered = false
	h.shared = make(map[string]*lua.LFunction)
	h.mu.Unlock()

	if registered {
		for _, host := range h.Halves() {
			h.opts.Dispatcher.RemoveClient(host)
		}
	}
	h.closeHalves()
	h.log.Info("handle killed")
	return nil
}

// FatalErrors sums the fatal errors of both halves.
func (h *Handle) FatalErrors() int {
	n := 0
	for _, host := range h.Halves() {
		n += host.FatalErrors()
	}
	return n
}
