package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/store"
)

const faultyRules = `
total = 0
function GameFrame(n)
	total = total + n
	if n == 2 then error("bad frame " .. n) end
end
function GetSyncData() return "total:" .. total end
`

// recordRun runs the project for frames and returns its database path.
func recordRun(t *testing.T, p *project, frames string) string {
	t.Helper()
	_, err := execute(NewRunCommand(&RootOptions{Format: "json", Config: p.config}), "--frames", frames)
	require.NoError(t, err)
	return p.path("luahost.db")
}

func decodeTrace(t *testing.T, out string) TraceResult {
	t.Helper()
	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTraceTimeline(t *testing.T) {
	p := newProject(t, map[string]string{"LuaRules/main.lua": faultyRules}, "handles: [rules]\nsync_interval: 1\n")
	db := recordRun(t, p, "3")

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json", Config: p.config}), "--db", db)
	require.NoError(t, err)
	res := decodeTrace(t, out)

	assert.Equal(t, TraceStats{Handles: 1, Checkpoints: 3, Faults: 1, Fatal: 0}, res.Stats)
	require.Len(t, res.Timeline, 4)

	types := make([]string, len(res.Timeline))
	for i, e := range res.Timeline {
		types[i] = e.Type
	}
	assert.Equal(t, []string{"sync", "sync", "fault", "sync"}, types, "checkpoints sort ahead of faults within a frame")

	fault := res.Timeline[2]
	assert.Equal(t, int64(2), fault.Frame)
	assert.Equal(t, "GameFrame", fault.Func)
	assert.True(t, fault.Synced)
	assert.Contains(t, fault.Message, "bad frame 2")
	assert.Equal(t, len("total:6"), res.Timeline[3].Size)
}

func TestTraceFrameRangeAndHandle(t *testing.T) {
	p := newProject(t, map[string]string{"LuaRules/main.lua": faultyRules}, "handles: [rules]\nsync_interval: 1\n")
	db := recordRun(t, p, "4")

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json", Config: p.config}),
		"--db", db, "--handle", "LuaRules", "--from", "3", "--to", "3")
	require.NoError(t, err)
	res := decodeTrace(t, out)
	require.Len(t, res.Timeline, 1)
	assert.Equal(t, int64(3), res.Timeline[0].Frame)

	out, err = execute(NewTraceCommand(&RootOptions{Format: "json", Config: p.config}), "--db", db, "--handle", "LuaUI")
	require.NoError(t, err)
	assert.Empty(t, decodeTrace(t, out).Timeline)
}

func TestTraceText(t *testing.T) {
	p := newProject(t, map[string]string{"LuaRules/main.lua": faultyRules}, "handles: [rules]\nsync_interval: 2\n")
	recordRun(t, p, "2")

	// --db defaults to the configured database
	out, err := execute(NewTraceCommand(&RootOptions{Format: "text", Config: p.config}))
	require.NoError(t, err)
	assert.Contains(t, out, "Timeline:")
	assert.Contains(t, out, "[f=2] LuaRules sync ")
	assert.Contains(t, out, "[f=2] LuaRules error GameFrame(synced): ")
	assert.Contains(t, out, "Stats: 1 handle(s), 1 checkpoint(s), 1 fault(s), 0 fatal")
}

func TestTraceEmptyDatabase(t *testing.T) {
	p := newProject(t, nil, "")
	st, err := store.Open(p.path("luahost.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(NewTraceCommand(&RootOptions{Format: "text", Config: p.config}))
	require.NoError(t, err)
	assert.Contains(t, out, "No events recorded.")
}

func TestTraceMissingDatabase(t *testing.T) {
	p := newProject(t, nil, "")

	_, err := execute(NewTraceCommand(&RootOptions{Format: "text", Config: p.config}), "--db", p.path("nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, p.path("nope.db"))
}

func TestBuildTraceOrdersByFrame(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	_, err = st.RecordFault(ctx, store.Fault{HandleID: "a", Handle: "LuaUI", Frame: 5, Func: "Update", Message: "x"})
	require.NoError(t, err)
	_, err = st.SaveSyncData(ctx, "LuaRules", 7, []byte("s"))
	require.NoError(t, err)
	_, err = st.RecordFault(ctx, store.Fault{HandleID: "b", Handle: "LuaRules", Frame: 1, Func: "GameFrame", Message: "y", Synced: true, Fatal: true})
	require.NoError(t, err)

	res, err := buildTrace(ctx, st, &TraceOptions{To: -1})
	require.NoError(t, err)
	require.Len(t, res.Timeline, 3)
	assert.Equal(t, []int64{1, 5, 7}, []int64{res.Timeline[0].Frame, res.Timeline[1].Frame, res.Timeline[2].Frame})
	assert.Equal(t, TraceStats{Handles: 2, Checkpoints: 1, Faults: 2, Fatal: 1}, res.Stats)
}
