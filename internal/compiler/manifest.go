package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/spring/spring-sub006/internal/ir"
)

// CompileManifest parses a CUE value into a Manifest. Both top-level blocks
// are optional:
//
//	events: {
//		UnitJumped: {}                  // managed, synced
//		AllowJump:  {controller: true}
//		MinimapClick: {unsynced: true}
//	}
//	handles: {
//		ui: {dir: "MyUI", order: 310, unsynced_mode: "rM"}
//	}
//
// managed defaults to true, unsynced and controller to false.
func CompileManifest(v cue.Value) (*ir.Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &ir.Manifest{Version: ir.ManifestVersion}

	if vv := v.LookupPath(cue.ParsePath("version")); vv.Exists() {
		s, err := vv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.Version = s
	}

	var err error
	if m.Events, err = parseEvents(v.LookupPath(cue.ParsePath("events"))); err != nil {
		return nil, err
	}
	if m.Handles, err = parseHandles(v.LookupPath(cue.ParsePath("handles"))); err != nil {
		return nil, err
	}
	return m, nil
}

func parseEvents(v cue.Value) ([]ir.EventDecl, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.EventDecl
	for iter.Next() {
		ev := ir.EventDecl{Name: iter.Label(), Managed: true}
		val := iter.Value()
		for field, dst := range map[string]*bool{
			"managed":    &ev.Managed,
			"unsynced":   &ev.Unsynced,
			"controller": &ev.Controller,
		} {
			if err := lookupBool(val, field, dst); err != nil {
				return nil, err
			}
		}
		if err := rejectUnknown(val, "events."+ev.Name, "managed", "unsynced", "controller"); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseHandles(v cue.Value) ([]ir.HandleDecl, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.HandleDecl
	for iter.Next() {
		h := ir.HandleDecl{Kind: iter.Label()}
		val := iter.Value()
		for field, dst := range map[string]*string{
			"name":          &h.Name,
			"dir":           &h.Dir,
			"synced_file":   &h.SyncedFile,
			"unsynced_file": &h.UnsyncedFile,
			"synced_mode":   &h.SyncedMode,
			"unsynced_mode": &h.UnsyncedMode,
			"capability":    &h.Capability,
		} {
			if err := lookupString(val, field, dst); err != nil {
				return nil, err
			}
		}
		if ov := val.LookupPath(cue.ParsePath("order")); ov.Exists() {
			n, err := ov.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			h.Order = n
		}
		if err := rejectUnknown(val, "handles."+h.Kind,
			"name", "order", "dir", "synced_file", "unsynced_file",
			"synced_mode", "unsynced_mode", "capability"); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func lookupBool(v cue.Value, field string, dst *bool) error {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil
	}
	b, err := fv.Bool()
	if err != nil {
		return formatCUEError(err)
	}
	*dst = b
	return nil
}

func lookupString(v cue.Value, field string, dst *string) error {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil
	}
	s, err := fv.String()
	if err != nil {
		return formatCUEError(err)
	}
	*dst = s
	return nil
}

// rejectUnknown fails on a field outside known, so typos do not silently
// fall back to defaults.
func rejectUnknown(v cue.Value, at string, known ...string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	for iter.Next() {
		if !allowed[iter.Label()] {
			return &CompileError{
				Field:   at + "." + iter.Label(),
				Message: "unknown field",
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

// CompileError is a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
