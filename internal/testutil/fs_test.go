package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/vfs"
)

func TestArchiveFSVisibleToZipModes(t *testing.T) {
	fsys := ArchiveFS(map[string]string{"LuaRules/main.lua": "return 1"})

	data, err := fsys.ReadFile("LuaRules/main.lua", vfs.ModeZip)
	require.NoError(t, err)
	assert.Equal(t, "return 1", string(data))
	assert.False(t, fsys.Exists("LuaRules/main.lua", vfs.ModeRaw))
}

func TestRawFSHiddenFromZipModes(t *testing.T) {
	fsys := RawFS(map[string]string{"LuaUI/main.lua": "x = 1"})

	assert.True(t, fsys.Exists("LuaUI/main.lua", vfs.ModeRawFirst))
	assert.False(t, fsys.Exists("LuaUI/main.lua", vfs.ModeZip))
}

func TestDiscardLogger(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(t.Context(), slog.LevelError))
}
