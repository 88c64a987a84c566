package handle

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/events"
)

// recvTarget delivers to the unsynced RecvFromSynced call-in.
func (h *Handle) recvTarget(ctx context.Context, args []bridge.Value) ([]bridge.Value, error) {
	host := h.Unsynced()
	if host == nil || host.Killed() || !host.HasCallIn(events.RecvFromSynced) {
		return nil, nil
	}
	_, err := host.InvokeContext(ctx, events.RecvFromSynced, bridge.LuaAll(host.State(), args)...)
	return nil, err
}

// sharedTarget delivers to the unsynced shared function name.
func (h *Handle) sharedTarget(name string) bridge.Target {
	return func(ctx context.Context, args []bridge.Value) ([]bridge.Value, error) {
		host := h.Unsynced()
		h.mu.Lock()
		fn := h.shared[name]
		h.mu.Unlock()
		if host == nil || host.Killed() || fn == nil {
			return nil, fmt.Errorf("no shared function %q", name)
		}
		_, err := host.Call(ctx, name, fn, bridge.LuaAll(host.State(), args)...)
		return nil, err
	}
}

// SendToUnsynced delivers args to the unsynced RecvFromSynced call-in
// through the bridge.
func (h *Handle) SendToUnsynced(ctx context.Context, args ...any) error {
	_, err := h.bridge.SendGo(ctx, events.RecvFromSynced, h.recvTarget, args)
	return err
}

// CallUnsynced calls a shared function of the unsynced half through the
// bridge.
func (h *Handle) CallUnsynced(ctx context.Context, name string, args ...any) error {
	_, err := h.bridge.SendGo(ctx, name, h.sharedTarget(name), args)
	return err
}

// SendToUnsynced(...) from synced code. Results never flow back: synced
// code must not observe unsynced state.
func (h *Handle) luaSendToUnsynced(L *lua.LState) int {
	args := make([]lua.LValue, L.GetTop())
	for i := range args {
		args[i] = L.Get(i + 1)
	}
	_, _ = h.bridge.Call(h.Synced().Context(), events.RecvFromSynced, h.recvTarget, args...)
	return 0
}

// Script.CallUnsynced(name, ...) from synced code.
func (h *Handle) luaCallUnsynced(L *lua.LState) int {
	name := L.CheckString(1)
	args := make([]lua.LValue, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}
	_, _ = h.bridge.Call(h.Synced().Context(), name, h.sharedTarget(name), args...)
	return 0
}

// Script.AddSharedFunction(name, fn) from unsynced code.
func (h *Handle) luaAddShared(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	h.mu.Lock()
	h.shared[name] = fn
	h.mu.Unlock()
	return 0
}

// Script.RemoveSharedFunction(name) from unsynced code.
func (h *Handle) luaRemoveShared(L *lua.LState) int {
	name := L.CheckString(1)
	h.mu.Lock()
	_, ok := h.shared[name]
	delete(h.shared, name)
	h.mu.Unlock()
	L.Push(lua.LBool(ok))
	return 1
}

// GetSyncData asks the synced half for its opaque sync data. ok is false
// when the call-in is missing, fails, or returns a non-string.
func (h *Handle) GetSyncData(ctx context.Context) (string, bool) {
	host := h.Synced()
	if host == nil || !host.HasCallIn(events.GetSyncData) {
		return "", false
	}
	res, err := host.InvokeContext(ctx, events.GetSyncData)
	if err != nil || len(res) == 0 {
		return "", false
	}
	s, ok := res[0].(lua.LString)
	if !ok {
		return "", false
	}
	return string(s), true
}

// CheckSyncData hands data back to the synced half verbatim. Returns the
// call-in's boolean answer; true when there is nothing to check with.
func (h *Handle) CheckSyncData(ctx context.Context, data string) bool {
	host := h.Synced()
	if host == nil {
		return true
	}
	return host.CallIn(ctx, events.CheckSyncData, []any{lua.LString(data)}, true)
}
