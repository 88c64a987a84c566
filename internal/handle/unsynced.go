package handle

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/script"
)

// registryKey is where the unsynced environment lives in the Lua registry.
const registryKey = "UNSYNCED"

// unsyncedGlobals are the plain functions copied into UNSYNCED.
var unsyncedGlobals = []string{
	"assert", "pairs", "ipairs", "pcall", "xpcall", "select", "type",
	"tostring", "tonumber", "unpack", "next", "error", "print",
	"setmetatable", "getmetatable",
}

// unsyncedLibs are the library subsets copied into UNSYNCED.
var unsyncedLibs = map[string][]string{
	"math": {
		"abs", "acos", "asin", "atan", "atan2", "ceil", "cos", "cosh", "deg",
		"exp", "floor", "fmod", "frexp", "huge", "ldexp", "log", "log10",
		"max", "min", "modf", "pi", "pow", "rad", "random", "randomseed",
		"sin", "sinh", "sqrt", "tan", "tanh",
	},
	"table": {"concat", "insert", "maxn", "remove", "sort", "getn"},
	"string": {
		"byte", "char", "find", "format", "gmatch", "gsub", "len", "lower",
		"match", "rep", "reverse", "sub", "upper",
	},
}

// buildUnsyncedEnv creates the UNSYNCED table from the allow-lists, stores
// it in the registry and makes it the host environment.
func buildUnsyncedEnv(h *script.Host) *lua.LTable {
	L := h.State()
	g := L.G.Global
	env := L.NewTable()

	for _, name := range unsyncedGlobals {
		if v := g.RawGetString(name); v != lua.LNil {
			env.RawSetString(name, v)
		}
	}
	for lib, names := range unsyncedLibs {
		src, ok := g.RawGetString(lib).(*lua.LTable)
		if !ok {
			continue
		}
		dst := L.NewTable()
		for _, name := range names {
			if v := src.RawGetString(name); v != lua.LNil {
				dst.RawSetString(name, v)
			}
		}
		env.RawSetString(lib, dst)
	}
	env.RawSetString("_G", env)

	L.G.Registry.RawSetString(registryKey, env)
	h.SetEnv(env)
	return env
}

// rebind points the named call-ins at env. A call-in that ended up in the
// state's real globals is moved into env first.
func rebind(h *script.Host, env *lua.LTable, names []string) {
	g := h.State().G.Global
	for _, name := range names {
		v := env.RawGetString(name)
		if v == lua.LNil {
			v = g.RawGetString(name)
			if v == lua.LNil {
				continue
			}
			env.RawSetString(name, v)
		}
		if fn, ok := v.(*lua.LFunction); ok && !fn.IsG {
			fn.Env = env
		}
	}
}
