package compiler

import (
	"fmt"
	"regexp"

	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/ir"
	"github.com/spring/spring-sub006/internal/vfs"
)

// Validation error codes.
const (
	// Event declarations (E100-E109)
	ErrInvalidEventName   = "E101" // not a Lua identifier
	ErrDuplicateEvent     = "E102" // declared twice
	ErrShadowedEvent      = "E103" // redeclares a standard event
	ErrUnsyncedController = "E104" // controller events are synced-only
	ErrUnmanagedFlags     = "E105" // unmanaged events carry no other flags

	// Handle declarations (E110-E119)
	ErrUnknownKind        = "E110"
	ErrDuplicateHandle    = "E111"
	ErrInvalidMode        = "E112"
	ErrInvalidCapability  = "E113"
	ErrNoSyncedHalf       = "E114" // synced fields on a kind without one
	ErrInvalidHandlePath  = "E115"
	ErrUnsupportedVersion = "E120"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError is a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a manifest against the standard event table and the
// known handle kinds. Returns all errors found.
func Validate(m *ir.Manifest) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if m.Version != "" && m.Version != ir.ManifestVersion {
		add(ErrUnsupportedVersion, "version", "unsupported manifest version %q", m.Version)
	}

	std := events.NewRegistry()
	events.RegisterDefaults(std)

	seen := make(map[string]bool)
	for i, e := range m.Events {
		field := fmt.Sprintf("events[%d]", i)
		if !identRe.MatchString(e.Name) {
			add(ErrInvalidEventName, field, "event name %q is not an identifier", e.Name)
		}
		if seen[e.Name] {
			add(ErrDuplicateEvent, field, "duplicate event %q", e.Name)
		}
		seen[e.Name] = true
		if std.IsKnown(e.Name) {
			add(ErrShadowedEvent, field, "%q is a standard event", e.Name)
		}
		if e.Controller && e.Unsynced {
			add(ErrUnsyncedController, field, "controller event %q cannot be unsynced", e.Name)
		}
		if !e.Managed && (e.Controller || e.Unsynced) {
			add(ErrUnmanagedFlags, field, "unmanaged event %q cannot be unsynced or controller", e.Name)
		}
	}

	kinds := make(map[handle.Kind]bool)
	for i, h := range m.Handles {
		field := fmt.Sprintf("handles[%d]", i)
		kind, err := handle.ParseKind(h.Kind)
		if err != nil {
			add(ErrUnknownKind, field, "%v", err)
			continue
		}
		if kinds[kind] {
			add(ErrDuplicateHandle, field, "kind %s declared twice", kind)
		}
		kinds[kind] = true

		def, _ := handle.ProfileFor(kind)
		if !def.HasSynced() && (h.SyncedFile != "" || h.SyncedMode != "") {
			add(ErrNoSyncedHalf, field, "kind %s has no synced half", kind)
		}
		for name, mode := range map[string]string{"synced_mode": h.SyncedMode, "unsynced_mode": h.UnsyncedMode} {
			if mode != "" && len(vfs.Mode(mode).Sources()) != len(mode) {
				add(ErrInvalidMode, field+"."+name, "invalid mode %q", mode)
			}
		}
		switch h.Capability {
		case "", "all", "none":
		default:
			add(ErrInvalidCapability, field+".capability", "capability must be \"all\" or \"none\", got %q", h.Capability)
		}
		if h.Dir != "" {
			if _, err := vfs.Clean("manifest", h.Dir); err != nil {
				add(ErrInvalidHandlePath, field+".dir", "%v", err)
			}
		}
		for name, file := range map[string]string{"synced_file": h.SyncedFile, "unsynced_file": h.UnsyncedFile} {
			if file != "" {
				if _, err := vfs.Clean("manifest", file); err != nil {
					add(ErrInvalidHandlePath, field+"."+name, "%v", err)
				}
			}
		}
	}

	return errs
}
