package config

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/script"
	"github.com/spring/spring-sub006/internal/vfs"
)

func newHost(t *testing.T, synced bool, ns *script.Namespaces) *script.Host {
	t.Helper()
	h, err := script.NewHost(script.Options{
		Name:       "LuaUI",
		Synced:     synced,
		FS:         vfs.New(vfs.Options{}),
		Namespaces: ns,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })
	return h
}

func TestInstall_UnsyncedAccessors(t *testing.T) {
	s := NewSettings(nil)
	ns := script.NewNamespaces()
	Install(ns, s)

	var notified string
	s.Subscribe("Volume", func(_, v string) { notified = v })

	h := newHost(t, false, ns)
	require.NoError(t, h.Exec(`
		timeout = Spring.GetConfigInt("KeyChainTimeout", 1)
		missing = Spring.GetConfigString("Nope", "fallback")
		Spring.SetConfigInt("Volume", 80)
		Spring.SetConfigString("Skin", "dark")
	`, "cfg.lua"))

	env := h.Env()
	assert.Equal(t, lua.LNumber(750), env.RawGetString("timeout"))
	assert.Equal(t, lua.LString("fallback"), env.RawGetString("missing"))
	assert.Equal(t, "80", notified)
	assert.Equal(t, "dark", s.String("Skin", ""))
}

func TestInstall_HiddenFromSynced(t *testing.T) {
	ns := script.NewNamespaces()
	Install(ns, NewSettings(nil))

	h := newHost(t, true, ns)
	require.NoError(t, h.Exec(`has = Spring ~= nil and Spring.GetConfigInt ~= nil`, "cfg.lua"))
	assert.Equal(t, lua.LFalse, h.Env().RawGetString("has"))
}
