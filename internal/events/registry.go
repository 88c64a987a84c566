package events

import (
	"fmt"
	"sort"
)

// Flags describe how an event is dispatched and who may receive it.
type Flags uint8

const (
	// Managed events own an ordered subscriber list. Unmanaged events are
	// delivered ad hoc by their owner (e.g. RecvFromSynced).
	Managed Flags = 1 << iota

	// Unsynced events carry client-local information. Synced clients may
	// never subscribe to them.
	Unsynced

	// Controller events ask the simulation for a decision. Only synced
	// clients receive them.
	Controller
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var s string
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(Managed) {
		add("managed")
	}
	if f.Has(Unsynced) {
		add("unsynced")
	}
	if f.Has(Controller) {
		add("controller")
	}
	if s == "" {
		return "none"
	}
	return s
}

// Info is the immutable description of one event.
type Info struct {
	Name  string `json:"name"`
	Flags Flags  `json:"flags"`
}

// Managed reports whether the event has a subscriber list.
func (i Info) Managed() bool { return i.Flags.Has(Managed) }

// Unsynced reports whether the event is client-local.
func (i Info) Unsynced() bool { return i.Flags.Has(Unsynced) }

// Controller reports whether the event is a controller query.
func (i Info) Controller() bool { return i.Flags.Has(Controller) }

// Policy is how an event travels through its subscriber list.
type Policy uint8

const (
	// PolicyForward visits every subscriber front to back.
	PolicyForward Policy = iota
	// PolicyRespond visits back to front and stops at the first client
	// that handles the event.
	PolicyRespond
	// PolicyControl asks every subscriber and ANDs the answers.
	PolicyControl
	// PolicyPress is PolicyRespond plus pointer capture by the handler.
	PolicyPress
	// PolicyCapture delivers to the pointer capture owner only.
	PolicyCapture
)

func (p Policy) String() string {
	switch p {
	case PolicyRespond:
		return "respond"
	case PolicyControl:
		return "controller"
	case PolicyPress:
		return "press"
	case PolicyCapture:
		return "capture"
	default:
		return "forward"
	}
}

// Registry is the static event table.
//
// Register is called once per event at startup, then Freeze. After Freeze
// the registry is read-only and safe to share between goroutines without
// locking; Register after Freeze panics.
type Registry struct {
	events map[string]Info
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{events: make(map[string]Info)}
}

// Register adds an event. Registering the same name twice is a
// programming error and panics.
func (r *Registry) Register(name string, managed, unsynced, controller bool) {
	if r.frozen {
		panic(fmt.Sprintf("events: Register(%q) after Freeze", name))
	}
	if name == "" {
		panic("events: empty event name")
	}
	if _, dup := r.events[name]; dup {
		panic(fmt.Sprintf("events: duplicate event %q", name))
	}

	var f Flags
	if managed {
		f |= Managed
	}
	if unsynced {
		f |= Unsynced
	}
	if controller {
		f |= Controller
	}
	r.events[name] = Info{Name: name, Flags: f}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Info returns the description of name.
func (r *Registry) Info(name string) (Info, bool) {
	info, ok := r.events[name]
	return info, ok
}

// Policy returns the dispatch policy of name. Unknown and manifest events
// that are not controllers are forwarded.
func (r *Registry) Policy(name string) Policy {
	info, ok := r.Info(name)
	switch {
	case !ok:
		return PolicyForward
	case info.Controller():
		return PolicyControl
	case name == MousePress:
		return PolicyPress
	case name == MouseMove || name == MouseRelease:
		return PolicyCapture
	case firstResponders[name]:
		return PolicyRespond
	}
	return PolicyForward
}

// IsKnown reports whether name was registered.
func (r *Registry) IsKnown(name string) bool {
	_, ok := r.events[name]
	return ok
}

// IsManaged reports whether name is a registered managed event.
func (r *Registry) IsManaged(name string) bool {
	return r.events[name].Managed()
}

// IsUnsynced reports whether name is a registered unsynced event.
func (r *Registry) IsUnsynced(name string) bool {
	return r.events[name].Unsynced()
}

// IsController reports whether name is a registered controller event.
func (r *Registry) IsController(name string) bool {
	return r.events[name].Controller()
}

// Names returns all event names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManagedNames returns the managed event names in lexical order.
func (r *Registry) ManagedNames() []string {
	var names []string
	for _, name := range r.Names() {
		if r.events[name].Managed() {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of registered events.
func (r *Registry) Len() int {
	return len(r.events)
}
