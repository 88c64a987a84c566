package handle

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/capability"
)

// CallAsTeam(team | {ctrl=, read=, select=}, fn, ...) runs fn with the
// synced capability context switched, and restores the previous context
// however fn exits. Nesting is refused.
func (h *Handle) luaCallAsTeam(L *lua.LState) int {
	guard := h.synced.guard
	next := guard.Current()
	teams := h.opts.Teams

	checkTeam := func(arg int, v lua.LValue) int {
		n, ok := v.(lua.LNumber)
		if !ok {
			L.ArgError(arg, "team number expected")
		}
		team := int(n)
		if !capability.Valid(teams, team) {
			L.ArgError(arg, "bad team")
		}
		return team
	}

	switch v := L.Get(1).(type) {
	case lua.LNumber:
		next = next.AsTeam(teams, checkTeam(1, v))
	case *lua.LTable:
		if c := v.RawGetString("ctrl"); c != lua.LNil {
			next = next.WithCtrl(checkTeam(1, c))
		}
		if r := v.RawGetString("read"); r != lua.LNil {
			next = next.WithRead(teams, checkTeam(1, r))
		}
		if s := v.RawGetString("select"); s != lua.LNil {
			next = next.WithSelect(checkTeam(1, s))
		}
	default:
		L.ArgError(1, "team number or table expected")
	}
	fn := L.CheckFunction(2)

	base := L.GetTop()
	nret := 0
	err := guard.Elevate(next, func() error {
		L.Push(fn)
		for i := 3; i <= base; i++ {
			L.Push(L.Get(i))
		}
		L.Call(base-2, lua.MultRet)
		nret = L.GetTop() - base
		return nil
	})
	if errors.Is(err, capability.ErrNested) {
		L.RaiseError("CallAsTeam: %s", err)
	}
	return nret
}

// installCapabilityGetters adds the Spring capability getters reading g.
func (h *Handle) installCapabilityGetters(L *lua.LState, env *lua.LTable, g *capability.Guard) {
	num := func(get func(capability.Context) int) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(lua.LNumber(get(g.Current())))
			return 1
		}
	}
	flag := func(get func(capability.Context) bool) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(lua.LBool(get(g.Current())))
			return 1
		}
	}
	L.SetFuncs(subTable(L, env, "Spring"), map[string]lua.LGFunction{
		"GetCtrlTeam":     num(func(c capability.Context) int { return c.CtrlTeam }),
		"GetReadTeam":     num(func(c capability.Context) int { return c.ReadTeam }),
		"GetReadAllyTeam": num(func(c capability.Context) int { return c.ReadAllyTeam }),
		"GetSelectTeam":   num(func(c capability.Context) int { return c.SelectTeam }),
		"IsFullControl":   flag(func(c capability.Context) bool { return c.FullControl }),
		"IsFullRead":      flag(func(c capability.Context) bool { return c.FullRead }),
	})
}
