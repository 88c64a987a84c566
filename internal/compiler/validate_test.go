package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spring/spring-sub006/internal/ir"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   ir.EventDecl
		code string
	}{
		{"bad name", ir.EventDecl{Name: "has space", Managed: true}, ErrInvalidEventName},
		{"empty name", ir.EventDecl{Name: "", Managed: true}, ErrInvalidEventName},
		{"standard event", ir.EventDecl{Name: "Update", Managed: true, Unsynced: true}, ErrShadowedEvent},
		{"unsynced controller", ir.EventDecl{Name: "AllowX", Managed: true, Unsynced: true, Controller: true}, ErrUnsyncedController},
		{"unmanaged with flags", ir.EventDecl{Name: "Raw", Unsynced: true}, ErrUnmanagedFlags},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&ir.Manifest{Events: []ir.EventDecl{tt.ev}})
			assert.Contains(t, codes(errs), tt.code)
		})
	}
}

func TestValidateDuplicateEvent(t *testing.T) {
	errs := Validate(&ir.Manifest{Events: []ir.EventDecl{
		{Name: "Custom", Managed: true},
		{Name: "Custom", Managed: true},
	}})
	assert.Equal(t, []string{ErrDuplicateEvent}, codes(errs))
	assert.Equal(t, "events[1]", errs[0].Field)
}

func TestValidateHandles(t *testing.T) {
	tests := []struct {
		name string
		h    ir.HandleDecl
		code string
	}{
		{"unknown kind", ir.HandleDecl{Kind: "editor"}, ErrUnknownKind},
		{"synced on ui", ir.HandleDecl{Kind: "ui", SyncedFile: "main.lua"}, ErrNoSyncedHalf},
		{"bad mode", ir.HandleDecl{Kind: "ui", UnsyncedMode: "rx"}, ErrInvalidMode},
		{"repeated source", ir.HandleDecl{Kind: "rules", SyncedMode: "rr"}, ErrInvalidMode},
		{"bad capability", ir.HandleDecl{Kind: "gaia", Capability: "some"}, ErrInvalidCapability},
		{"escaping dir", ir.HandleDecl{Kind: "ui", Dir: "../elsewhere"}, ErrInvalidHandlePath},
		{"absolute file", ir.HandleDecl{Kind: "rules", SyncedFile: "/main.lua"}, ErrInvalidHandlePath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&ir.Manifest{Handles: []ir.HandleDecl{tt.h}})
			assert.Equal(t, []string{tt.code}, codes(errs))
		})
	}
}

func TestValidateHandleAcceptsProfileName(t *testing.T) {
	errs := Validate(&ir.Manifest{Handles: []ir.HandleDecl{
		{Kind: "LuaRules", Capability: "none"},
		{Kind: "rules"},
	}})
	assert.Equal(t, []string{ErrDuplicateHandle}, codes(errs))
}

func TestValidateVersion(t *testing.T) {
	assert.Empty(t, Validate(&ir.Manifest{Version: ir.ManifestVersion}))
	assert.Equal(t, []string{ErrUnsupportedVersion}, codes(Validate(&ir.Manifest{Version: "9"})))
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "events[0]", Message: "duplicate event \"X\"", Code: ErrDuplicateEvent}
	assert.Equal(t, `[E102] events[0]: duplicate event "X"`, e.Error())
}
