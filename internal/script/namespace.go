package script

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Namespace names an engine table exposed to scripts.
type Namespace int

const (
	NamespaceSpring Namespace = iota
	NamespaceGame
	NamespaceGL
	NamespaceCMD
)

// AllNamespaces lists every engine namespace in install order.
var AllNamespaces = []Namespace{NamespaceSpring, NamespaceGame, NamespaceGL, NamespaceCMD}

func (n Namespace) String() string {
	switch n {
	case NamespaceSpring:
		return "Spring"
	case NamespaceGame:
		return "Game"
	case NamespaceGL:
		return "GL"
	case NamespaceCMD:
		return "CMD"
	}
	return fmt.Sprintf("Namespace(%d)", int(n))
}

// Availability says which halves of a handle see a function.
type Availability uint8

const (
	AvailSynced Availability = 1 << iota
	AvailUnsynced
	AvailBoth = AvailSynced | AvailUnsynced
)

func (a Availability) allows(synced bool) bool {
	if synced {
		return a&AvailSynced != 0
	}
	return a&AvailUnsynced != 0
}

// Binder builds the Lua function for one host. Functions that need the
// host (its capability context, its VFS) close over it here.
type Binder func(h *Host) lua.LGFunction

type function struct {
	name  string
	bind  Binder
	avail Availability
}

type constant struct {
	name  string
	value any
	avail Availability
}

// Namespaces is the registry of engine functions and constants, keyed by
// namespace. It is filled at startup and read by every host on install.
type Namespaces struct {
	mu     sync.RWMutex
	funcs  map[Namespace][]function
	consts map[Namespace][]constant
	names  map[Namespace]map[string]bool
}

// NewNamespaces creates an empty registry.
func NewNamespaces() *Namespaces {
	return &Namespaces{
		funcs:  make(map[Namespace][]function),
		consts: make(map[Namespace][]constant),
		names:  make(map[Namespace]map[string]bool),
	}
}

func (n *Namespaces) claim(ns Namespace, name string) {
	if n.names[ns] == nil {
		n.names[ns] = make(map[string]bool)
	}
	if n.names[ns][name] {
		panic(fmt.Sprintf("script: %s.%s registered twice", ns, name))
	}
	n.names[ns][name] = true
}

// Register adds a host-independent function. Registering a name twice in
// the same namespace panics.
func (n *Namespaces) Register(ns Namespace, name string, fn lua.LGFunction, avail Availability) {
	n.RegisterBound(ns, name, func(*Host) lua.LGFunction { return fn }, avail)
}

// RegisterBound adds a function built per host.
func (n *Namespaces) RegisterBound(ns Namespace, name string, bind Binder, avail Availability) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claim(ns, name)
	n.funcs[ns] = append(n.funcs[ns], function{name: name, bind: bind, avail: avail})
}

// Const adds a constant. value is converted with ToLua at install time.
func (n *Namespaces) Const(ns Namespace, name string, value any, avail Availability) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claim(ns, name)
	n.consts[ns] = append(n.consts[ns], constant{name: name, value: value, avail: avail})
}

// Names returns the sorted names registered in ns.
func (n *Namespaces) Names(ns Namespace) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.names[ns]))
	for name := range n.names[ns] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Install sets every entry available to h's half into h's environment,
// merging into namespace tables that already exist there.
func (n *Namespaces) Install(h *Host) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	L := h.State()
	for _, ns := range AllNamespaces {
		tbl := subTable(L, h.Env(), ns.String())
		for _, f := range n.funcs[ns] {
			if f.avail.allows(h.Synced()) {
				tbl.RawSetString(f.name, L.NewFunction(f.bind(h)))
			}
		}
		for _, c := range n.consts[ns] {
			if c.avail.allows(h.Synced()) {
				tbl.RawSetString(c.name, ToLua(L, c.value))
			}
		}
	}
}

// subTable returns into[name], creating an empty table there if needed.
func subTable(L *lua.LState, into *lua.LTable, name string) *lua.LTable {
	if t, ok := into.RawGetString(name).(*lua.LTable); ok {
		return t
	}
	t := L.NewTable()
	into.RawSetString(name, t)
	return t
}
