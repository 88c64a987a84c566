package ir

// Manifest is a compiled host manifest.
type Manifest struct {
	Version string       `json:"version"`
	Events  []EventDecl  `json:"events"`
	Handles []HandleDecl `json:"handles"`
}

// EventDecl declares an event beyond the engine's standard table.
type EventDecl struct {
	Name       string `json:"name"`
	Managed    bool   `json:"managed"`
	Unsynced   bool   `json:"unsynced"`
	Controller bool   `json:"controller"`
}

// HandleDecl overrides the profile of one handle kind. Zero fields keep the
// kind's default.
type HandleDecl struct {
	Kind         string `json:"kind"`
	Name         string `json:"name,omitempty"`
	Order        int64  `json:"order,omitempty"`
	Dir          string `json:"dir,omitempty"`
	SyncedFile   string `json:"synced_file,omitempty"`
	UnsyncedFile string `json:"unsynced_file,omitempty"`
	SyncedMode   string `json:"synced_mode,omitempty"`
	UnsyncedMode string `json:"unsynced_mode,omitempty"`

	// Capability is "all", "none" or empty for the default.
	Capability string `json:"capability,omitempty"`
}

// Event returns the declaration named name.
func (m *Manifest) Event(name string) (EventDecl, bool) {
	for _, e := range m.Events {
		if e.Name == name {
			return e, true
		}
	}
	return EventDecl{}, false
}

// Handle returns the declaration for kind.
func (m *Manifest) Handle(kind string) (HandleDecl, bool) {
	for _, h := range m.Handles {
		if h.Kind == kind {
			return h, true
		}
	}
	return HandleDecl{}, false
}

// Object returns the canonical document of m. Events are keyed by name and
// handles by kind so declaration order never changes the hash.
func (m *Manifest) Object() Object {
	evs := make(Object, len(m.Events))
	for _, e := range m.Events {
		evs[e.Name] = Object{
			"managed":    Bool(e.Managed),
			"unsynced":   Bool(e.Unsynced),
			"controller": Bool(e.Controller),
		}
	}

	hs := make(Object, len(m.Handles))
	for _, h := range m.Handles {
		obj := Object{}
		set := func(key, val string) {
			if val != "" {
				obj[key] = String(val)
			}
		}
		set("name", h.Name)
		set("dir", h.Dir)
		set("synced_file", h.SyncedFile)
		set("unsynced_file", h.UnsyncedFile)
		set("synced_mode", h.SyncedMode)
		set("unsynced_mode", h.UnsyncedMode)
		set("capability", h.Capability)
		if h.Order != 0 {
			obj["order"] = Int(h.Order)
		}
		hs[h.Kind] = obj
	}

	version := m.Version
	if version == "" {
		version = ManifestVersion
	}
	return Object{
		"version": String(version),
		"events":  evs,
		"handles": hs,
	}
}
