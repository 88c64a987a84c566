package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/events"
)

func TestCompileManifestText(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest+`
handles: {
	ui: {dir: "MyUI"}
}
`)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text", Config: p.config}), manifest)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 2 event(s), 1 handle override(s)")
	assert.Contains(t, out, "UnitJumped: managed")
	assert.Contains(t, out, "AllowJump: managed|controller")
	assert.Contains(t, out, "Handles:\n  ui")
	assert.Contains(t, out, "manifest hash: ")
	assert.Contains(t, out, "events hash:   ")
}

func TestCompileManifestJSON(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "json", Config: p.config}), manifest)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Hash, 64)
	require.NotNil(t, resp.Data.Manifest)
	assert.Len(t, resp.Data.Manifest.Events, 2)

	defaults, err := compiler.TableHash(events.DefaultRegistry())
	require.NoError(t, err)
	assert.NotEqual(t, defaults, resp.Data.EventsHash, "manifest events change the table hash")
}

func TestCompileHashIgnoresDeclarationOrder(t *testing.T) {
	p := newProject(t, nil, "")
	a := p.write(t, "a.cue", "events: {\n\tUnitJumped: {}\n\tAllowJump: {controller: true}\n}\n")
	b := p.write(t, "b.cue", "events: {\n\tAllowJump: {controller: true}\n\tUnitJumped: {}\n}\n")

	hash := func(path string) string {
		out, err := execute(NewCompileCommand(&RootOptions{Format: "json", Config: p.config}), path)
		require.NoError(t, err)
		var resp struct {
			Data CompilationResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		return resp.Data.Hash
	}
	assert.Equal(t, hash(a), hash(b))
}

func TestCompileOutputToFile(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)
	outFile := p.path("out/manifest.json")
	require.NoError(t, os.MkdirAll(p.path("out"), 0o755))

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text", Config: p.config}), manifest, "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote canonical manifest to")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Equal(t, byte('\n'), data[len(data)-1])
	assert.Contains(t, string(data), `"UnitJumped"`)
}

func TestCompileWriteFailure(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text", Config: p.config}), manifest, "-o", p.path("no/such/dir/out.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeWriteFailed)
}

func TestCompileInvalidManifest(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "bad.cue", "events: {\n\tDrawScreen: {}\n}\n")

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text", Config: p.config}), manifest)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, compiler.ErrShadowedEvent)
}

func TestCompileNonExistentManifest(t *testing.T) {
	p := newProject(t, nil, "")

	out, err := execute(NewCompileCommand(&RootOptions{Format: "json", Config: p.config}), p.path("nope.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestEventFlags(t *testing.T) {
	assert.Equal(t, "none", eventFlags(false, false, false))
	assert.Equal(t, "managed", eventFlags(true, false, false))
	assert.Equal(t, events.Flags(events.Managed|events.Unsynced).String(), eventFlags(true, true, false))
}
