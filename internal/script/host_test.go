package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/vfs"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testFS() *vfs.FS {
	return vfs.New(vfs.Options{Roots: []vfs.Root{
		{Source: vfs.SourceMod, FS: fstest.MapFS{
			"LuaUI/lib.lua":       {Data: []byte("return 40 + 2")},
			"LuaUI/widgets/a.lua": {Data: []byte("-- a")},
			"LuaUI/widgets/b.lua": {Data: []byte("-- b")},
			"LuaUI/lines.txt":     {Data: []byte("one\ntwo\n")},
		}},
		{Source: vfs.SourceRaw, FS: fstest.MapFS{
			"LuaUI/dev.lua": {Data: []byte("return 'dev'")},
		}},
	}})
}

func newHost(t *testing.T, opts Options, src string) *Host {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "test"
	}
	if opts.Logger == nil {
		opts.Logger = quiet
	}
	if opts.FS == nil {
		opts.FS = testFS()
	}
	h, err := NewHost(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })
	require.NoError(t, h.Exec(src, "test.lua"))
	return h
}

func global(h *Host, name string) lua.LValue {
	return h.Env().RawGetString(name)
}

func TestHost_CallInResults(t *testing.T) {
	h := newHost(t, Options{}, `
		function Yes() return true end
		function No() return false end
		function Nothing() end
		function Number() return 1 end
		function Echo(a, b) last = {a, b} return a end
	`)
	ctx := context.Background()

	assert.True(t, h.HasCallIn("Yes"))
	assert.False(t, h.HasCallIn("Missing"))
	assert.True(t, h.WantsEvent("No"))

	assert.True(t, h.CallIn(ctx, "Yes", nil, false))
	assert.False(t, h.CallIn(ctx, "No", nil, true))
	assert.True(t, h.CallIn(ctx, "Nothing", nil, true), "no result answers the default")
	assert.False(t, h.CallIn(ctx, "Number", nil, false), "non-boolean answers the default")
	assert.True(t, h.CallIn(ctx, "Missing", nil, true))

	assert.True(t, h.CallIn(ctx, "Echo", []any{true, "x"}, false))
	last := global(h, "last").(*lua.LTable)
	assert.Equal(t, lua.LString("x"), last.RawGetInt(2))
}

func TestHost_LoadFailuresAreReported(t *testing.T) {
	h, err := NewHost(Options{Name: "broken", Logger: quiet})
	require.NoError(t, err)
	defer h.Kill()

	assert.False(t, h.Load("function (", "syntax.lua"))
	assert.False(t, h.Load("error('boom')", "runtime.lua"))
	assert.Equal(t, 1, h.Errors())
	assert.Equal(t, 0, h.FatalErrors())
}

func TestHost_ErrorsAreNotFatalUnlessEngineFails(t *testing.T) {
	ns := NewNamespaces()
	ns.Register(NamespaceSpring, "Explode", func(L *lua.LState) int {
		Fatalf("engine state corrupted")
		return 0
	}, AvailBoth)
	ns.Register(NamespaceSpring, "NeedsNumber", func(L *lua.LState) int {
		L.CheckNumber(1)
		return 0
	}, AvailBoth)

	var faults []*CallError
	h := newHost(t, Options{Namespaces: ns, Hooks: Hooks{Fault: func(_ *Host, err *CallError) {
		faults = append(faults, err)
	}}}, `
		function LuaError() error("plain") end
		function BadArg() Spring.NeedsNumber("x") end
		function Fatal() Spring.Explode() end
	`)

	_, err := h.Invoke("LuaError")
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.Fatal)
	assert.Contains(t, ce.Message, "plain")
	assert.NotEmpty(t, ce.Trace)

	_, err = h.Invoke("BadArg")
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	_, err = h.Invoke("Fatal")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "engine state corrupted")

	assert.Equal(t, 1, h.FatalErrors())
	assert.Equal(t, 3, h.Errors())
	assert.Len(t, faults, 3)

	_, err = h.Invoke("Missing")
	assert.ErrorIs(t, err, ErrNoCallIn)
}

func TestHost_KillReentrancy(t *testing.T) {
	var h *Host
	var inner error
	ns := NewNamespaces()
	ns.Register(NamespaceSpring, "KillMe", func(L *lua.LState) int {
		inner = h.Kill()
		return 0
	}, AvailBoth)

	h = newHost(t, Options{Namespaces: ns}, `function Update() Spring.KillMe() return true end`)

	assert.True(t, h.CallIn(context.Background(), "Update", nil, false))
	assert.ErrorIs(t, inner, ErrReentrant)
	assert.False(t, h.Killed())

	require.NoError(t, h.Kill())
	assert.True(t, h.Killed())
	require.NoError(t, h.Kill(), "second kill is a no-op")
	assert.False(t, h.CallIn(context.Background(), "Update", nil, false))
	_, err := h.Invoke("Update")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHost_Reload(t *testing.T) {
	h := newHost(t, Options{}, `counter = (counter or 0) + 1`)
	h.Env().RawSetString("counter", lua.LNumber(10))

	require.NoError(t, h.Reload())
	assert.Equal(t, lua.LNumber(1), global(h, "counter"), "fresh state")
}

func TestHost_StandardLibrariesAreTrimmed(t *testing.T) {
	h := newHost(t, Options{}, `
		has = {
			dofile = dofile ~= nil,
			loadfile = loadfile ~= nil,
			require = require ~= nil,
			string = string.format ~= nil,
			math = math.floor ~= nil,
			table = table.insert ~= nil,
			pcall = pcall ~= nil,
		}
	`)
	has := global(h, "has").(*lua.LTable)
	assert.Equal(t, lua.LFalse, has.RawGetString("dofile"))
	assert.Equal(t, lua.LFalse, has.RawGetString("loadfile"))
	assert.Equal(t, lua.LFalse, has.RawGetString("require"))
	assert.Equal(t, lua.LTrue, has.RawGetString("string"))
	assert.Equal(t, lua.LTrue, has.RawGetString("math"))
	assert.Equal(t, lua.LTrue, has.RawGetString("table"))
	assert.Equal(t, lua.LTrue, has.RawGetString("pcall"))
}

func TestHost_VFSNamespace(t *testing.T) {
	h := newHost(t, Options{ReadMode: vfs.ModeZip, AllowedModes: vfs.ModeZip}, `
		included = VFS.Include("LuaUI/lib.lua")
		exists = VFS.FileExists("LuaUI/lib.lua")
		devVisible = VFS.FileExists("LuaUI/dev.lua", VFS.RAW)
		files = VFS.DirList("LuaUI/widgets", "*.lua")
		escape, escapeMsg, escapeErrno = VFS.LoadFile("../../etc/passwd")
		packed = VFS.ZlibCompress("hello hello hello")
		unpacked = VFS.ZlibDecompress(packed)
		clamped = VFS.ZlibDecompress(packed, 2^62)
		tooBig, tooBigMsg = VFS.ZlibDecompress(packed, 3)
	`)

	assert.Equal(t, lua.LNumber(42), global(h, "included"))
	assert.Equal(t, lua.LTrue, global(h, "exists"))
	assert.Equal(t, lua.LFalse, global(h, "devVisible"), "raw mode narrowed away")
	files := global(h, "files").(*lua.LTable)
	assert.Equal(t, 2, files.Len())
	assert.Equal(t, lua.LString("LuaUI/widgets/a.lua"), files.RawGetInt(1))

	assert.Equal(t, lua.LNil, global(h, "escape"))
	assert.Contains(t, global(h, "escapeMsg").String(), "permission denied")
	assert.Equal(t, lua.LNumber(syscall.EACCES), global(h, "escapeErrno"))
	assert.Equal(t, lua.LString("hello hello hello"), global(h, "unpacked"))
	assert.Equal(t, lua.LString("hello hello hello"), global(h, "clamped"))
	assert.Equal(t, lua.LNil, global(h, "tooBig"))
	assert.Contains(t, global(h, "tooBigMsg").String(), "exceeds limit")
}

func TestHost_IOShim(t *testing.T) {
	h := newHost(t, Options{}, `
		local f = io.open("LuaUI/lines.txt")
		first = f:read()
		rest = f:read("*a")
		f:close()

		collected = {}
		for line in io.lines("LuaUI/lines.txt") do
			collected[#collected + 1] = line
		end

		bad, badMsg, badErrno = io.open("/etc/passwd")
		writable = io.open("LuaUI/out.txt", "w")
		popen = io.popen("ls")
		ok = pcall(os.execute, "rm -rf /")
	`)

	assert.Equal(t, lua.LString("one"), global(h, "first"))
	assert.Equal(t, lua.LString("two\n"), global(h, "rest"))
	assert.Equal(t, 2, global(h, "collected").(*lua.LTable).Len())
	assert.Equal(t, lua.LNil, global(h, "bad"))
	assert.Equal(t, lua.LNumber(syscall.EACCES), global(h, "badErrno"))
	assert.Equal(t, lua.LNil, global(h, "writable"), "no write dir configured")
	assert.Equal(t, lua.LNil, global(h, "popen"))
}

func TestHost_SyncedHasNoClock(t *testing.T) {
	synced := newHost(t, Options{Synced: true}, `clock = os.clock ~= nil; time = os.time ~= nil`)
	assert.Equal(t, lua.LFalse, global(synced, "clock"))
	assert.Equal(t, lua.LFalse, global(synced, "time"))

	unsynced := newHost(t, Options{}, `clock = os.clock ~= nil`)
	assert.Equal(t, lua.LTrue, global(unsynced, "clock"))
}

func TestHost_NamespaceAvailability(t *testing.T) {
	ns := NewNamespaces()
	ret := func(v string) lua.LGFunction {
		return func(L *lua.LState) int { L.Push(lua.LString(v)); return 1 }
	}
	ns.Register(NamespaceSpring, "SyncedOnly", ret("s"), AvailSynced)
	ns.Register(NamespaceSpring, "UnsyncedOnly", ret("u"), AvailUnsynced)
	ns.Register(NamespaceGL, "Both", ret("b"), AvailBoth)
	ns.Const(NamespaceCMD, "MOVE", 10, AvailBoth)
	ns.RegisterBound(NamespaceGame, "Name", func(h *Host) lua.LGFunction { return ret(h.Name()) }, AvailBoth)

	assert.Panics(t, func() { ns.Const(NamespaceCMD, "MOVE", 11, AvailBoth) })
	assert.Equal(t, []string{"SyncedOnly", "UnsyncedOnly"}, ns.Names(NamespaceSpring))

	src := `
		s = Spring.SyncedOnly ~= nil
		u = Spring.UnsyncedOnly ~= nil
		b = GL.Both()
		move = CMD.MOVE
		name = Game.Name()
	`
	synced := newHost(t, Options{Name: "rules", Synced: true, Namespaces: ns}, src)
	assert.Equal(t, lua.LTrue, global(synced, "s"))
	assert.Equal(t, lua.LFalse, global(synced, "u"))
	assert.Equal(t, lua.LString("b"), global(synced, "b"))
	assert.Equal(t, lua.LNumber(10), global(synced, "move"))
	assert.Equal(t, lua.LString("rules"), global(synced, "name"))

	unsynced := newHost(t, Options{Name: "ui", Namespaces: ns}, src)
	assert.Equal(t, lua.LFalse, global(unsynced, "s"))
	assert.Equal(t, lua.LTrue, global(unsynced, "u"))
}

type deferred struct {
	event string
	args  []any
}

type recordingDeferrer struct{ got []deferred }

func (d *recordingDeferrer) Defer(_ context.Context, _ *Host, event string, args []any) {
	d.got = append(d.got, deferred{event, args})
}

func TestHost_CallInFromOtherThreadIsDeferred(t *testing.T) {
	d := &recordingDeferrer{}
	h := newHost(t, Options{Thread: ThreadRender, Deferrer: d}, `
		calls = 0
		function Update() calls = calls + 1 return true end
	`)

	sim := WithThread(context.Background(), ThreadSim)
	assert.False(t, h.CallIn(sim, "Update", []any{1}, false))
	assert.Equal(t, lua.LNumber(0), global(h, "calls"))
	require.Len(t, d.got, 1)
	assert.Equal(t, "Update", d.got[0].event)

	render := WithThread(context.Background(), ThreadRender)
	assert.True(t, h.CallIn(render, "Update", nil, false))
	assert.True(t, h.CallIn(context.Background(), "Update", nil, false), "untagged callers run inline")
	assert.Equal(t, lua.LNumber(2), global(h, "calls"))
}

func TestHost_ScriptNamespace(t *testing.T) {
	var killReason string
	var updated []string
	h := newHost(t, Options{Name: "widget", Hooks: Hooks{
		RequestKill:  func(_ *Host, reason string) { killReason = reason },
		UpdateCallIn: func(_ *Host, name string) bool { updated = append(updated, name); return true },
	}}, `
		name = Script.GetName()
		synced = Script.IsSynced()
		function Update()
			function DrawScreen() end
			Script.UpdateCallIn("DrawScreen")
			Script.RequestKill("done")
		end
	`)
	assert.Equal(t, lua.LString("widget"), global(h, "name"))
	assert.Equal(t, lua.LFalse, global(h, "synced"))

	h.CallIn(context.Background(), "Update", nil, false)
	assert.Equal(t, "done", killReason)
	assert.Equal(t, []string{"DrawScreen"}, updated)
	assert.True(t, h.HasCallIn("DrawScreen"))
	assert.False(t, h.Killed(), "kill is only requested")
}

func TestThreadFrom(t *testing.T) {
	_, ok := ThreadFrom(context.Background())
	assert.False(t, ok)
	th, ok := ThreadFrom(WithThread(context.Background(), ThreadSim))
	assert.True(t, ok)
	assert.Equal(t, ThreadSim, th)
	assert.Equal(t, "sim", th.String())
}
