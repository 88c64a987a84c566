package cli

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/store"
)

func TestRunFramesText(t *testing.T) {
	p := newProject(t, nil, "")

	out, err := execute(NewRunCommand(&RootOptions{Format: "text", Config: p.config}), "--frames", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "[f=2] LuaRules(synced): rules 2\n")
	assert.Contains(t, out, "✓ Stopped at frame 3 with 2 handle(s) loaded")
	assert.FileExists(t, p.path("luahost.db"))
}

func TestRunJSONSummary(t *testing.T) {
	p := newProject(t, nil, "sync_interval: 1\n")

	out, err := execute(NewRunCommand(&RootOptions{Format: "json", Config: p.config}), "--frames", "3")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(3), resp.Data.Frame)
	assert.Equal(t, []string{"LuaRules", "LuaUI"}, resp.Data.Handles)
	assert.Empty(t, resp.Data.Faults)
	assert.Equal(t, int64(3), resp.Data.Synced["LuaRules"])

	st, err := store.Open(p.path("luahost.db"))
	require.NoError(t, err)
	defer st.Close()
	latest, err := st.LatestSyncData(context.Background(), "LuaRules")
	require.NoError(t, err)
	assert.Equal(t, "total:6", string(latest.Data))
}

func TestRunRecordsFaults(t *testing.T) {
	p := newProject(t, map[string]string{
		"LuaRules/main.lua": `function GameFrame(n) if n == 2 then error("boom") end end`,
	}, "handles: [rules]\n")

	out, err := execute(NewRunCommand(&RootOptions{Format: "text", Config: p.config}), "--frames", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Stopped at frame 3 with 1 handle(s) loaded")
	assert.Contains(t, out, "  LuaRules: 1 fault(s)")
}

func TestRunDatabaseFlagOverridesConfig(t *testing.T) {
	p := newProject(t, nil, "")
	db := p.path("other.db")

	_, err := execute(NewRunCommand(&RootOptions{Format: "json", Config: p.config}), "--frames", "1", "--db", db)
	require.NoError(t, err)
	assert.FileExists(t, db)
	assert.NoFileExists(t, p.path("luahost.db"))
}

func TestRunLoadFailure(t *testing.T) {
	p := newProject(t, map[string]string{
		"LuaRules/main.lua": `function GameFrame(n`,
	}, "handles: [rules]\n")

	_, err := execute(NewRunCommand(&RootOptions{Format: "text", Config: p.config}), "--frames", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load handles")
}

func TestRunNoHandleSources(t *testing.T) {
	p := newProject(t, map[string]string{}, "handles: [ui]\n")

	_, err := execute(NewRunCommand(&RootOptions{Format: "text", Config: p.config}), "--frames", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunInvalidConfig(t *testing.T) {
	p := newProject(t, nil, "")
	p.write(t, "luahost.yaml", "frames: -4\n")

	_, err := execute(NewRunCommand(&RootOptions{Format: "text", Config: p.config}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeConfig)
}

func TestRunStopsOnContextTimeout(t *testing.T) {
	p := newProject(t, nil, "frame_rate: 30\n")

	cmd := NewRunCommand(&RootOptions{Format: "json", Config: p.config})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	cmd.SetContext(ctx)

	start := time.Now()
	out, err := execute(cmd)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var resp struct {
		Data RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Positive(t, resp.Data.Frame)
}

func TestRunWithDebugServer(t *testing.T) {
	p := newProject(t, nil, "")

	_, err := execute(NewRunCommand(&RootOptions{Format: "json", Config: p.config}),
		"--frames", "2", "--debug-addr", "127.0.0.1:0")
	require.NoError(t, err)
}

func TestApplyRunFlags(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{}}
	cmd := NewRunCommand(opts.RootOptions)
	require.NoError(t, cmd.ParseFlags([]string{"--seed", "99", "--threaded"}))

	// The command keeps its own options; read them back through the flags.
	opts.Seed, _ = cmd.Flags().GetUint64("seed")
	opts.Threaded, _ = cmd.Flags().GetBool("threaded")
	opts.Frames = 500

	cfg := config.Default()
	cfg.Frames = 10
	applyRunFlags(cmd, opts, &cfg)

	assert.Equal(t, uint64(99), cfg.Seed)
	assert.True(t, cfg.Threaded)
	assert.Equal(t, int64(10), cfg.Frames, "unset flags keep the config value")
	assert.Equal(t, "luahost.db", cfg.Database)
}

func TestRunMissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// Defaults mount no roots, so no handle has a source to load.
	_, err = execute(NewRunCommand(&RootOptions{Format: "text", Config: "luahost.yaml"}), "--frames", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load handles")
}
