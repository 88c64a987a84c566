package compiler

import (
	"errors"
	"fmt"

	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/ir"
	"github.com/spring/spring-sub006/internal/vfs"
)

// Registry returns a frozen registry holding the standard events plus the
// manifest's. The manifest must validate.
func Registry(m *ir.Manifest) (*events.Registry, error) {
	if err := validationErr(m); err != nil {
		return nil, err
	}
	r := events.NewRegistry()
	events.RegisterDefaults(r)
	for _, e := range m.Events {
		r.Register(e.Name, e.Managed, e.Unsynced, e.Controller)
	}
	r.Freeze()
	return r, nil
}

// Profiles returns the default profile of every kind with the manifest's
// overrides applied.
func Profiles(m *ir.Manifest) (map[handle.Kind]handle.Profile, error) {
	if err := validationErr(m); err != nil {
		return nil, err
	}
	out := make(map[handle.Kind]handle.Profile, len(handle.Kinds))
	for _, k := range handle.Kinds {
		p, _ := handle.ProfileFor(k)
		out[k] = p
	}
	for _, h := range m.Handles {
		k, _ := handle.ParseKind(h.Kind)
		out[k] = apply(out[k], h)
	}
	return out, nil
}

func apply(p handle.Profile, h ir.HandleDecl) handle.Profile {
	if h.Name != "" {
		p.Name = h.Name
	}
	if h.Order != 0 {
		p.Order = int(h.Order)
	}
	if h.Dir != "" {
		p.Dir = h.Dir
	}
	if h.SyncedFile != "" {
		p.SyncedFile = h.SyncedFile
	}
	if h.UnsyncedFile != "" {
		p.UnsyncedFile = h.UnsyncedFile
	}
	if h.SyncedMode != "" {
		p.SyncedMode = vfs.Mode(h.SyncedMode)
	}
	if h.UnsyncedMode != "" {
		p.UnsyncedMode = vfs.Mode(h.UnsyncedMode)
	}
	switch h.Capability {
	case "all":
		p.Capability = capability.All()
	case "none":
		p.Capability = capability.None()
	}
	return p
}

func validationErr(m *ir.Manifest) error {
	verrs := Validate(m)
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, len(verrs))
	for i, e := range verrs {
		errs[i] = e
	}
	return fmt.Errorf("invalid manifest: %w", errors.Join(errs...))
}

// TableHash hashes the complete event table of reg. Two hosts agree on the
// hash exactly when they register the same names with the same flags.
func TableHash(reg *events.Registry) (string, error) {
	table := make(map[string]string, reg.Len())
	for _, name := range reg.Names() {
		info, _ := reg.Info(name)
		table[name] = info.Flags.String()
	}
	return ir.EventTableHash(table)
}
