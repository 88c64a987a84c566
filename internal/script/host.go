package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/vfs"
)

// Hooks connect a host to its owner. Every hook is optional.
type Hooks struct {
	// Setup runs after the standard libraries are open and before the
	// io/os shim, the VFS and Script namespaces and the engine namespaces
	// are installed into the environment. It may replace the environment
	// with SetEnv.
	Setup func(h *Host) error

	// PostLoad runs after the source chunk returned successfully.
	PostLoad func(h *Host) error

	// UpdateCallIn backs Script.UpdateCallIn.
	UpdateCallIn func(h *Host, name string) bool

	// RequestKill backs Script.Kill and Script.RequestKill. The owner must
	// kill the host later, outside any of its call-ins.
	RequestKill func(h *Host, reason string)

	// Fault is told about every failed call-in.
	Fault func(h *Host, err *CallError)
}

// Options configure a Host.
type Options struct {
	Name   string
	Order  int
	Synced bool
	User   bool

	// Thread is the goroutine tag the host is bound to. ThreadAny skips
	// the check.
	Thread   Thread
	Deferrer Deferrer

	FS *vfs.FS
	// ReadMode is the search mode for reads that name no mode.
	ReadMode vfs.Mode
	// AllowedModes bounds the sources a script may request.
	AllowedModes vfs.Mode

	Namespaces *Namespaces
	Hooks      Hooks
	Logger     *slog.Logger
}

// Host owns one Lua state.
type Host struct {
	opts Options
	log  *slog.Logger

	L   *lua.LState
	env *lua.LTable
	ctx context.Context

	depth  int
	killed atomic.Bool
	fatal  atomic.Int64
	errs   atomic.Int64

	src     string
	srcName string
}

// standard libraries opened in every state.
var stdLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// stripped from every state: file access goes through VFS, and there is
// no package library for require to use.
var alwaysStripped = []string{"dofile", "loadfile", "require", "module", "_printregs"}

// NewHost creates a host with a fresh state. The source is run by Load.
func NewHost(opts Options) (*Host, error) {
	if opts.Name == "" {
		return nil, errors.New("script: host needs a name")
	}
	if opts.ReadMode == "" {
		opts.ReadMode = vfs.ModeZip
	}
	if opts.AllowedModes == "" {
		opts.AllowedModes = opts.ReadMode
	}
	if opts.Namespaces == nil {
		opts.Namespaces = NewNamespaces()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		opts: opts,
		log:  logger.With("handle", opts.Name, "synced", opts.Synced),
		ctx:  context.Background(),
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) open() error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range stdLibs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	g := L.G.Global
	for _, name := range alwaysStripped {
		g.RawSetString(name, lua.LNil)
	}
	h.L = L
	h.env = g

	if h.opts.Hooks.Setup != nil {
		if err := h.opts.Hooks.Setup(h); err != nil {
			L.Close()
			return fmt.Errorf("%s: setup: %w", h.opts.Name, err)
		}
	}
	h.installIO()
	h.installVFS()
	h.installScript()
	h.opts.Namespaces.Install(h)
	return nil
}

func (h *Host) Name() string { return h.opts.Name }
func (h *Host) Order() int { return h.opts.Order }
func (h *Host) Synced() bool { return h.opts.Synced }
func (h *Host) User() bool { return h.opts.User }
func (h *Host) Thread() Thread { return h.opts.Thread }
func (h *Host) Logger() *slog.Logger { return h.log }
func (h *Host) FS() *vfs.FS { return h.opts.FS }

// State returns the Lua state. Nil after Kill.
func (h *Host) State() *lua.LState { return h.L }

// Env returns the table scripts see as their globals.
func (h *Host) Env() *lua.LTable { return h.env }

// SetEnv replaces the script environment. Only valid during Setup.
func (h *Host) SetEnv(t *lua.LTable) { h.env = t }

// Context returns the context of the call-in currently running, or
// context.Background outside call-ins.
func (h *Host) Context() context.Context { return h.ctx }

// Running reports whether a call-in of this host is on the stack.
func (h *Host) Running() bool { return h.depth > 0 }

// Killed reports whether the host has been torn down.
func (h *Host) Killed() bool { return h.killed.Load() }

// FatalErrors returns the number of fatal call-in errors so far.
func (h *Host) FatalErrors() int { return int(h.fatal.Load()) }

// Errors returns the number of failed call-ins so far, fatal or not.
func (h *Host) Errors() int { return int(h.errs.Load()) }

// Source returns the last source run by Load and its debug name.
func (h *Host) Source() (string, string) { return h.src, h.srcName }

// Load compiles and runs src as the host's main chunk. Failures are logged
// and reported as false.
func (h *Host) Load(src, debugName string) bool {
	if err := h.Exec(src, debugName); err != nil {
		h.log.Error("script load failed", "source", debugName, "error", err)
		return false
	}
	return true
}

// Exec is Load returning the failure.
func (h *Host) Exec(src, debugName string) error {
	if h.Killed() {
		return ErrClosed
	}
	h.src, h.srcName = src, debugName

	fn, err := h.L.Load(strings.NewReader(src), debugName)
	if err != nil {
		return fmt.Errorf("compile %s: %w", debugName, err)
	}
	fn.Env = h.env

	h.depth++
	err = h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	h.depth--
	if err != nil {
		return h.callError("main chunk", err)
	}
	if h.opts.Hooks.PostLoad != nil {
		if err := h.opts.Hooks.PostLoad(h); err != nil {
			return fmt.Errorf("%s: %w", debugName, err)
		}
	}
	h.log.Debug("script loaded", "source", debugName)
	return nil
}

// HasCallIn reports whether the environment holds a function called name.
func (h *Host) HasCallIn(name string) bool {
	if h.Killed() {
		return false
	}
	_, ok := h.env.RawGetString(name).(*lua.LFunction)
	return ok
}

// CallIns returns the names of the functions in the environment among
// candidates.
func (h *Host) CallIns(candidates []string) []string {
	var out []string
	for _, name := range candidates {
		if h.HasCallIn(name) {
			out = append(out, name)
		}
	}
	return out
}

// WantsEvent implements events.Client.
func (h *Host) WantsEvent(event string) bool { return h.HasCallIn(event) }

// Invoke calls the environment function name with args.
func (h *Host) Invoke(name string, args ...lua.LValue) ([]lua.LValue, error) {
	return h.InvokeContext(context.Background(), name, args...)
}

// InvokeContext calls name with ctx available to engine functions through
// Context. Failures return a *CallError.
func (h *Host) InvokeContext(ctx context.Context, name string, args ...lua.LValue) ([]lua.LValue, error) {
	if h.Killed() {
		return nil, ErrClosed
	}
	fn, ok := h.env.RawGetString(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCallIn, name)
	}
	return h.call(ctx, name, fn, args)
}

// Call runs fn (a function of this state) protected.
func (h *Host) Call(ctx context.Context, label string, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	if h.Killed() {
		return nil, ErrClosed
	}
	return h.call(ctx, label, fn, args)
}

func (h *Host) call(ctx context.Context, label string, fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	prev := h.ctx
	h.ctx = ctx
	h.depth++
	defer func() {
		h.depth--
		h.ctx = prev
	}()

	L := h.L
	top := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...); err != nil {
		return nil, h.callError(label, err)
	}
	n := L.GetTop() - top
	out := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		out[i] = L.Get(top + 1 + i)
	}
	L.Pop(n)
	return out, nil
}

func (h *Host) callError(label string, err error) *CallError {
	ce := &CallError{Host: h.opts.Name, Func: label, Message: err.Error()}
	var ae *lua.ApiError
	if errors.As(err, &ae) {
		if ae.Object != nil {
			ce.Message = ae.Object.String()
		}
		ce.Trace = ae.StackTrace
		ce.Fatal = ae.Type == lua.ApiErrorPanic
	}
	h.errs.Add(1)
	if ce.Fatal {
		h.fatal.Add(1)
	}
	if h.opts.Hooks.Fault != nil {
		h.opts.Hooks.Fault(h, ce)
	}
	return ce
}

// CallIn implements events.Client. The first result is the answer when it
// is a boolean; anything else (including an error) answers def.
func (h *Host) CallIn(ctx context.Context, event string, args []any, def bool) bool {
	if h.Killed() {
		return def
	}
	if t, ok := ThreadFrom(ctx); ok && h.opts.Thread != ThreadAny && t != h.opts.Thread && h.opts.Deferrer != nil {
		h.opts.Deferrer.Defer(ctx, h, event, args)
		return def
	}

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = ToLua(h.L, a)
	}
	res, err := h.InvokeContext(ctx, event, largs...)
	if err != nil {
		if !errors.Is(err, ErrNoCallIn) && !errors.Is(err, ErrClosed) {
			var ce *CallError
			if errors.As(err, &ce) {
				h.log.Error("call-in failed", "event", event, "fatal", ce.Fatal, "error", ce.Message, "trace", ce.Trace)
			} else {
				h.log.Error("call-in failed", "event", event, "error", err)
			}
		}
		return def
	}
	if len(res) == 0 {
		return def
	}
	if b, ok := res[0].(lua.LBool); ok {
		return bool(b)
	}
	return def
}

// Kill closes the state. It fails with ErrReentrant while a call-in of this
// host is running; killing twice is a no-op.
func (h *Host) Kill() error {
	if h.depth > 0 {
		return ErrReentrant
	}
	if h.killed.Swap(true) {
		return nil
	}
	h.L.Close()
	h.log.Info("script host killed")
	return nil
}

// Reload tears the state down and runs the last source again in a fresh
// one. It fails with ErrReentrant while a call-in of this host is running.
func (h *Host) Reload() error {
	if h.depth > 0 {
		return ErrReentrant
	}
	src, name := h.src, h.srcName
	if !h.killed.Load() {
		h.L.Close()
	}
	h.killed.Store(false)
	if err := h.open(); err != nil {
		h.killed.Store(true)
		return err
	}
	h.log.Info("script host reloaded", "source", name)
	return h.Exec(src, name)
}

// Fatalf aborts the running engine function with a fatal error. It must
// only be called from a Go function invoked by Lua.
func Fatalf(format string, args ...any) {
	panic(fatalPanic{msg: fmt.Sprintf(format, args...)})
}
