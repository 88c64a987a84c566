package config

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// Well-known settings and their defaults.
var defaultSettings = map[string]string{
	"InvertQueueKey":  "0",
	"KeyChainTimeout": "750",
}

// Handler is told about a setting change. value is "" when the setting
// was removed.
type Handler func(name, value string)

type subscription struct {
	id int
	fn Handler
}

// Settings holds named string values with change notification.
//
// Thread-safety: safe for concurrent use. Handlers run on the goroutine
// that made the change, after the lock is released, so a handler may read
// or change settings itself.
type Settings struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string][]subscription
	any    []subscription
	nextID int
}

// NewSettings creates Settings holding the well-known defaults overlaid
// with initial.
func NewSettings(initial map[string]string) *Settings {
	s := &Settings{
		values: make(map[string]string, len(defaultSettings)+len(initial)),
		subs:   make(map[string][]subscription),
	}
	for k, v := range defaultSettings {
		s.values[k] = v
	}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

// Get returns the value of name.
func (s *Settings) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// String returns the value of name, or def when unset.
func (s *Settings) String(name, def string) string {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// Int returns the value of name as an int, or def when unset or not a
// number.
func (s *Settings) Int(name string, def int) int {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if f, ferr := strconv.ParseFloat(v, 64); ferr == nil {
			return int(f)
		}
		return def
	}
	return n
}

// Bool returns whether name is set to a true value ("1", "true", ...).
func (s *Settings) Bool(name string, def bool) bool {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return s.Int(name, 0) != 0
	}
	return b
}

// Set changes name and notifies subscribers when the value changed.
func (s *Settings) Set(name, value string) {
	s.mu.Lock()
	old, had := s.values[name]
	if had && old == value {
		s.mu.Unlock()
		return
	}
	s.values[name] = value
	handlers := s.handlersLocked(name)
	s.mu.Unlock()

	slog.Debug("setting changed", "name", name, "value", value)
	for _, fn := range handlers {
		fn(name, value)
	}
}

// SetInt is Set with an int value.
func (s *Settings) SetInt(name string, value int) {
	s.Set(name, strconv.Itoa(value))
}

// Replace makes values the complete set of settings. Changed and added
// names are notified with their new value; removed names with "".
// Well-known settings missing from values fall back to their defaults.
func (s *Settings) Replace(values map[string]string) {
	next := make(map[string]string, len(defaultSettings)+len(values))
	for k, v := range defaultSettings {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}

	type change struct {
		name, value string
		handlers    []Handler
	}
	s.mu.Lock()
	var changes []change
	for k, v := range next {
		if old, ok := s.values[k]; !ok || old != v {
			changes = append(changes, change{name: k, value: v})
		}
	}
	for k := range s.values {
		if _, ok := next[k]; !ok {
			changes = append(changes, change{name: k})
		}
	}
	s.values = next
	sort.Slice(changes, func(i, j int) bool { return changes[i].name < changes[j].name })
	for i := range changes {
		changes[i].handlers = s.handlersLocked(changes[i].name)
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range c.handlers {
			fn(c.name, c.value)
		}
	}
}

// Subscribe calls fn whenever name changes. The returned function removes
// the subscription.
func (s *Settings) Subscribe(name string, fn Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[name] = append(s.subs[name], subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs[name] = remove(s.subs[name], id)
	}
}

// SubscribeAll calls fn for every change.
func (s *Settings) SubscribeAll(fn Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.any = append(s.any, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.any = remove(s.any, id)
	}
}

// Names returns the setting names, sorted.
func (s *Settings) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every setting.
func (s *Settings) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// handlersLocked returns name's handlers in subscription order. Caller
// holds s.mu.
func (s *Settings) handlersLocked(name string) []Handler {
	subs := append(append([]subscription(nil), s.subs[name]...), s.any...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	out := make([]Handler, len(subs))
	for i, sub := range subs {
		out[i] = sub.fn
	}
	return out
}

func remove(subs []subscription, id int) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
