package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const rulesScript = `
total = 0
function GameFrame(n)
	total = total + n
	if n == 2 then Spring.Echo("rules", n) end
end
function GetSyncData() return "total:" .. total end
function AllowCommand(unit, cmd)
	Spring.Echo("allow", unit, cmd)
	return cmd ~= 13
end
`

const uiScript = `
function Update() end
function UnitJumped(id) Spring.Echo("jumped", id) end
`

const testManifest = `
events: {
	UnitJumped: {}
	AllowJump: {controller: true}
}
`

// project is a scratch host directory with a config file.
type project struct {
	dir    string
	config string
}

// newProject writes a config and a game directory mounted as a mod root.
// extra is appended to the config verbatim; a handles key in extra replaces
// the default handle list.
func newProject(t *testing.T, files map[string]string, extra string) *project {
	t.Helper()
	dir := t.TempDir()
	if files == nil {
		files = map[string]string{
			"LuaRules/main.lua": rulesScript,
			"LuaUI/main.lua":    uiScript,
		}
	}
	for name, body := range files {
		p := filepath.Join(dir, "game", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "game"), 0o755))

	cfg := "seed: 7\ndatabase: luahost.db\n"
	if !strings.Contains(extra, "handles:") {
		cfg += "handles: [rules, ui]\n"
	}
	cfg += `vfs:
  roots:
    - source: mod
      path: game
  write_dir: write
  write_prefixes: [LuaUI/Config]
` + extra
	path := filepath.Join(dir, "luahost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &project{dir: dir, config: path}
}

// write adds a file relative to the project directory.
func (p *project) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(p.dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (p *project) path(name string) string {
	return filepath.Join(p.dir, filepath.FromSlash(name))
}

// execute runs cmd with args and returns what it printed.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
