package script

import (
	lua "github.com/yuin/gopher-lua"
)

func (h *Host) installScript() {
	L := h.L
	t := subTable(L, h.env, "Script")
	L.SetFuncs(t, map[string]lua.LGFunction{
		"GetName":      h.scriptGetName,
		"IsSynced":     h.scriptIsSynced,
		"UpdateCallIn": h.scriptUpdateCallIn,
		"Kill":         h.scriptKill,
		"RequestKill":  h.scriptKill,
	})
}

func (h *Host) scriptGetName(L *lua.LState) int {
	L.Push(lua.LString(h.opts.Name))
	return 1
}

func (h *Host) scriptIsSynced(L *lua.LState) int {
	L.Push(lua.LBool(h.opts.Synced))
	return 1
}

// Script.UpdateCallIn(name) re-evaluates the subscription after the script
// defined or removed a call-in. Returns whether it is subscribed now.
func (h *Host) scriptUpdateCallIn(L *lua.LState) int {
	name := L.CheckString(1)
	ok := false
	if h.opts.Hooks.UpdateCallIn != nil {
		ok = h.opts.Hooks.UpdateCallIn(h, name)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// Script.Kill([reason]) and Script.RequestKill([reason]) can only schedule:
// the state running this function cannot be closed under it.
func (h *Host) scriptKill(L *lua.LState) int {
	reason := L.OptString(1, "requested by script")
	if h.opts.Hooks.RequestKill == nil {
		L.Push(lua.LFalse)
		return 1
	}
	h.opts.Hooks.RequestKill(h, reason)
	L.Push(lua.LTrue)
	return 1
}
