package handle

import (
	"fmt"
	"path"
	"strings"

	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/vfs"
)

// Kind is the role of a handle.
type Kind int

const (
	Rules Kind = iota + 1
	Gaia
	UI
	Intro
	Menu
)

// Kinds lists every kind in load order.
var Kinds = []Kind{Rules, Gaia, UI, Intro, Menu}

func (k Kind) String() string {
	switch k {
	case Rules:
		return "rules"
	case Gaia:
		return "gaia"
	case UI:
		return "ui"
	case Intro:
		return "intro"
	case Menu:
		return "menu"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a kind name as printed by String, or a profile name
// such as "LuaUI".
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
		if p, ok := ProfileFor(k); ok && strings.EqualFold(s, p.Name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown handle kind %q", s)
}

// Profile is the static description of a kind.
type Profile struct {
	Kind  Kind
	Name  string
	Order int
	Dir   string

	// SyncedFile is empty for kinds without a synced half.
	SyncedFile   string
	UnsyncedFile string

	// Production read modes per half. Developer mode widens zip-only modes
	// to raw-first.
	SyncedMode   vfs.Mode
	UnsyncedMode vfs.Mode

	Capability capability.Context
	User       bool
	Trusted    bool
}

// HasSynced reports whether the kind runs a synced half.
func (p Profile) HasSynced() bool { return p.SyncedFile != "" }

// SyncedPath returns the logical path of the synced source.
func (p Profile) SyncedPath() string { return path.Join(p.Dir, p.SyncedFile) }

// UnsyncedPath returns the logical path of the unsynced source.
func (p Profile) UnsyncedPath() string { return path.Join(p.Dir, p.UnsyncedFile) }

// Modes returns the read modes for each half.
func (p Profile) Modes(devMode bool) (synced, unsynced vfs.Mode) {
	synced, unsynced = p.SyncedMode, p.UnsyncedMode
	if devMode {
		synced, unsynced = widen(synced), widen(unsynced)
	}
	return synced, unsynced
}

func widen(m vfs.Mode) vfs.Mode {
	if m == vfs.ModeZip {
		return vfs.ModeRawFirst
	}
	return m
}

var profiles = map[Kind]Profile{
	Rules: {
		Kind:         Rules,
		Name:         "LuaRules",
		Order:        100,
		Dir:          "LuaRules",
		SyncedFile:   "main.lua",
		UnsyncedFile: "draw.lua",
		SyncedMode:   vfs.ModeZip,
		UnsyncedMode: vfs.ModeZip,
		Capability:   capability.All(),
		Trusted:      true,
	},
	Gaia: {
		Kind:         Gaia,
		Name:         "LuaGaia",
		Order:        200,
		Dir:          "LuaGaia",
		SyncedFile:   "main.lua",
		UnsyncedFile: "draw.lua",
		SyncedMode:   vfs.ModeZip,
		UnsyncedMode: vfs.ModeZip,
		Capability:   capability.None(),
		Trusted:      true,
	},
	UI: {
		Kind:         UI,
		Name:         "LuaUI",
		Order:        300,
		Dir:          "LuaUI",
		UnsyncedFile: "main.lua",
		UnsyncedMode: vfs.ModeRawFirst,
		Capability:   capability.None(),
		User:         true,
	},
	Intro: {
		Kind:         Intro,
		Name:         "LuaIntro",
		Order:        400,
		Dir:          "LuaIntro",
		UnsyncedFile: "main.lua",
		UnsyncedMode: vfs.ModeZip,
		Capability:   capability.None(),
	},
	Menu: {
		Kind:         Menu,
		Name:         "LuaMenu",
		Order:        500,
		Dir:          "LuaMenu",
		UnsyncedFile: "main.lua",
		UnsyncedMode: vfs.Mode("er"),
		Capability:   capability.None(),
		User:         true,
	},
}

// ProfileFor returns the default profile of k.
func ProfileFor(k Kind) (Profile, bool) {
	p, ok := profiles[k]
	return p, ok
}
