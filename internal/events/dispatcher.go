package events

import (
	"context"
	"log/slog"
	"sync"
)

// Client is a call-in receiver, normally one half of a script handle.
//
// CallIn invokes the client's call-in for event. def is the result to
// assume when the call-in fails or returns nothing; the boolean result is
// interpreted by the dispatch policy (handled / allowed).
type Client interface {
	Name() string
	Order() int
	Synced() bool
	WantsEvent(event string) bool
	CallIn(ctx context.Context, event string, args []any, def bool) bool
}

// key is the total order of clients inside every list.
type key struct {
	order int
	name  string
	seq   uint64
}

func (a key) less(b key) bool {
	if a.order != b.order {
		return a.order < b.order
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.seq < b.seq
}

type entry struct {
	client Client
	key    key
}

// list is one event's subscribers, sorted by key.
type list struct {
	entries []entry
}

func (l *list) index(c Client) int {
	for i, e := range l.entries {
		if e.client == c {
			return i
		}
	}
	return -1
}

func (l *list) insert(e entry) bool {
	if l.index(e.client) >= 0 {
		return false
	}
	pos := len(l.entries)
	for i, cur := range l.entries {
		if e.key.less(cur.key) {
			pos = i
			break
		}
	}
	l.entries = append(l.entries, entry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = e
	return true
}

func (l *list) remove(c Client) bool {
	i := l.index(c)
	if i < 0 {
		return false
	}
	copy(l.entries[i:], l.entries[i+1:])
	l.entries[len(l.entries)-1] = entry{}
	l.entries = l.entries[:len(l.entries)-1]
	return true
}

// Dispatcher routes events to subscribed clients.
//
// Thread-safety: all methods are safe for concurrent use. The internal lock
// is never held while a call-in runs, so call-ins may call AddClient,
// RemoveClient and UpdateClient on the dispatcher that is firing them.
type Dispatcher struct {
	reg *Registry

	mu      sync.Mutex
	all     list
	lists   map[string]*list
	seqs    map[Client]uint64
	nextSeq uint64
	capture Client
}

// NewDispatcher creates a dispatcher over the managed events of reg.
func NewDispatcher(reg *Registry) *Dispatcher {
	d := &Dispatcher{
		reg:   reg,
		lists: make(map[string]*list),
		seqs:  make(map[Client]uint64),
	}
	for _, name := range reg.ManagedNames() {
		d.lists[name] = &list{}
	}
	return d
}

// Registry returns the event table the dispatcher was built from.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// eligible reports whether c may subscribe to the managed event info,
// without asking the client.
func eligible(info Info, c Client) bool {
	if !info.Managed() {
		return false
	}
	if c.Synced() && info.Unsynced() {
		return false
	}
	if info.Controller() && !c.Synced() {
		return false
	}
	return true
}

// keyFor returns c's ordering key, assigning an insertion sequence the first
// time c is seen. Caller holds d.mu.
func (d *Dispatcher) keyFor(c Client) key {
	seq, ok := d.seqs[c]
	if !ok {
		d.nextSeq++
		seq = d.nextSeq
		d.seqs[c] = seq
	}
	return key{order: c.Order(), name: c.Name(), seq: seq}
}

// AddClient registers c and subscribes it to every eligible managed event
// it wants. Adding a client twice is a no-op for lists it is already in.
// Returns the number of event lists c was inserted into.
func (d *Dispatcher) AddClient(c Client) int {
	// Ask the client outside the lock: WantsEvent inspects script state.
	var wanted []string
	for _, name := range d.reg.ManagedNames() {
		info, _ := d.reg.Info(name)
		if eligible(info, c) && c.WantsEvent(name) {
			wanted = append(wanted, name)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	k := d.keyFor(c)
	d.all.insert(entry{client: c, key: k})

	n := 0
	for _, name := range wanted {
		if d.lists[name].insert(entry{client: c, key: k}) {
			n++
		}
	}

	slog.Debug("event client added", "client", c.Name(), "order", c.Order(), "synced", c.Synced(), "events", n)
	return n
}

// RemoveClient unsubscribes c from every event and drops it from the
// client list. It also releases pointer capture held by c.
func (d *Dispatcher) RemoveClient(c Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.all.remove(c)
	for _, l := range d.lists {
		l.remove(c)
	}
	delete(d.seqs, c)
	if d.capture == c {
		d.capture = nil
	}

	slog.Debug("event client removed", "client", c.Name())
}

// UpdateClient re-evaluates c's subscription to a single event, e.g. after
// a script defined or deleted the corresponding call-in. Returns whether c
// is subscribed afterwards.
func (d *Dispatcher) UpdateClient(c Client, event string) bool {
	info, ok := d.reg.Info(event)
	if !ok || !info.Managed() {
		return false
	}
	want := eligible(info, c) && c.WantsEvent(event)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.all.index(c) < 0 {
		return false
	}
	l := d.lists[event]
	if want {
		l.insert(entry{client: c, key: d.keyFor(c)})
	} else {
		l.remove(c)
	}
	return want
}

// Clients returns the registered clients in dispatch order.
func (d *Dispatcher) Clients() []Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clientsOf(&d.all)
}

// Subscribers returns the clients subscribed to event in dispatch order.
func (d *Dispatcher) Subscribers(event string) []Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lists[event]
	if !ok {
		return nil
	}
	return clientsOf(l)
}

func clientsOf(l *list) []Client {
	out := make([]Client, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.client
	}
	return out
}

// CaptureOwner returns the client currently holding pointer capture.
func (d *Dispatcher) CaptureOwner() Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture
}

// next picks the client to visit after last. The live list is re-read on
// every step; the successor is located by ordering key rather than by
// index, so insertions and removals made by a call-in (including the
// current client removing or re-adding itself) never cause a skip. The
// visited set guards against a client that re-added itself with a new key.
func (d *Dispatcher) next(l *list, last *key, visited map[Client]bool, reverse bool) (Client, key, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(l.entries)
	for i := 0; i < n; i++ {
		idx := i
		if reverse {
			idx = n - 1 - i
		}
		e := l.entries[idx]
		if visited[e.client] {
			continue
		}
		if last != nil {
			if !reverse && !last.less(e.key) {
				continue
			}
			if reverse && !e.key.less(*last) {
				continue
			}
		}
		return e.client, e.key, true
	}
	return nil, key{}, false
}

// walk calls fn for every subscriber of event until fn returns true.
// Returns the client that stopped the walk.
func (d *Dispatcher) walk(event string, reverse bool, fn func(Client) bool) (Client, bool) {
	d.mu.Lock()
	l, ok := d.lists[event]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}

	visited := make(map[Client]bool)
	var last *key
	for {
		c, k, ok := d.next(l, last, visited, reverse)
		if !ok {
			return nil, false
		}
		visited[c] = true
		last = &k
		if fn(c) {
			return c, true
		}
	}
}

// Notify fires event to all subscribers in ascending order. Results are
// ignored.
func (d *Dispatcher) Notify(ctx context.Context, event string, args ...any) {
	d.walk(event, false, func(c Client) bool {
		c.CallIn(ctx, event, args, false)
		return false
	})
}

// Respond fires event in descending order and stops at the first
// subscriber that reports it handled the event.
func (d *Dispatcher) Respond(ctx context.Context, event string, args ...any) (Client, bool) {
	return d.walk(event, true, func(c Client) bool {
		return c.CallIn(ctx, event, args, false)
	})
}

// AllowAll asks every subscriber and ANDs the answers. With no subscribers
// the answer is true.
func (d *Dispatcher) AllowAll(ctx context.Context, event string, args ...any) bool {
	allowed := true
	d.walk(event, false, func(c Client) bool {
		if !c.CallIn(ctx, event, args, true) {
			allowed = false
		}
		return false
	})
	return allowed
}

// AnyOf asks every subscriber and ORs the answers. With no subscribers the
// answer is false.
func (d *Dispatcher) AnyOf(ctx context.Context, event string, args ...any) bool {
	answer := false
	d.walk(event, false, func(c Client) bool {
		if c.CallIn(ctx, event, args, false) {
			answer = true
		}
		return false
	})
	return answer
}

// Fire delivers event by its registry policy and returns the answer:
// handled for respond and pointer events, the AND for controllers, false
// for forwarded events.
func (d *Dispatcher) Fire(ctx context.Context, event string, args ...any) bool {
	switch d.reg.Policy(event) {
	case PolicyRespond:
		_, handled := d.Respond(ctx, event, args...)
		return handled
	case PolicyControl:
		return d.AllowAll(ctx, event, args...)
	case PolicyPress:
		return d.MousePress(ctx, args...)
	case PolicyCapture:
		if event == MouseRelease {
			return d.MouseRelease(ctx, args...)
		}
		return d.MouseMove(ctx, args...)
	default:
		d.Notify(ctx, event, args...)
		return false
	}
}

// MousePress fires MousePress as a first-responder event. The client that
// handles it captures the pointer until MouseRelease.
func (d *Dispatcher) MousePress(ctx context.Context, args ...any) bool {
	c, handled := d.Respond(ctx, MousePress, args...)
	if !handled {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// A handler that removed itself during the press does not capture.
	if d.all.index(c) < 0 {
		return true
	}
	d.capture = c
	return true
}

// MouseMove delivers to the capture owner only. Returns false when nobody
// holds the pointer.
func (d *Dispatcher) MouseMove(ctx context.Context, args ...any) bool {
	owner := d.CaptureOwner()
	if owner == nil {
		return false
	}
	return owner.CallIn(ctx, MouseMove, args, false)
}

// MouseRelease delivers to the capture owner and releases the capture.
func (d *Dispatcher) MouseRelease(ctx context.Context, args ...any) bool {
	d.mu.Lock()
	owner := d.capture
	d.capture = nil
	d.mu.Unlock()
	if owner == nil {
		return false
	}
	return owner.CallIn(ctx, MouseRelease, args, false)
}
