// Package script hosts a single gopher-lua state.
//
// A Host owns exactly one *lua.LState and is the events.Client for it.
// It opens the base, table, string and math libraries, installs the
// VFS-gated io/os shim, the VFS and Script namespaces and every engine
// namespace registered in a Namespaces table, then runs the script source.
//
// Call-ins run protected. A failing call-in is logged with its Lua stack
// trace and answers the caller's default; only Go panics inside engine
// functions (see Fatalf) count as fatal errors.
//
// A Host is not safe for concurrent use: every call must come from the
// goroutine the host is bound to (see Thread). CallIn defers calls that
// arrive on another thread through the configured Deferrer.
package script
