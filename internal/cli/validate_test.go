package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/compiler"
)

func TestValidateValidManifest(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}), manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Manifest valid")
}

func TestValidateValidManifestJSON(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json", Config: p.config}), manifest)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateUsesConfiguredManifest(t *testing.T) {
	p := newProject(t, nil, "manifest: manifest.cue\n")
	p.write(t, "manifest.cue", testManifest)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Manifest valid")
}

func TestValidateNoManifest(t *testing.T) {
	p := newProject(t, nil, "")

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoManifest)
}

func TestValidateNonExistentManifest(t *testing.T) {
	p := newProject(t, nil, "")

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}), p.path("missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
	assert.Contains(t, out, "manifest not found")
}

func TestValidateSyntaxError(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "broken.cue", "events: {\n")

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}), manifest)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeLoadFailed)
}

func TestValidateMultipleErrors(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "bad.cue", `
events: {
	GameFrame: {}
	AllowJump: {controller: true, unsynced: true}
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text", Config: p.config}), manifest)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrShadowedEvent)
	assert.Contains(t, out, compiler.ErrUnsyncedController)
}

func TestValidateErrorsJSON(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "bad.cue", `
handles: {
	ui: {capability: "some"}
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json", Config: p.config}), manifest)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, compiler.ErrInvalidCapability, resp.Error.Code)
}

func TestValidateVerboseOutput(t *testing.T) {
	p := newProject(t, nil, "")
	manifest := p.write(t, "manifest.cue", testManifest)

	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true, Config: p.config})
	out, err := execute(cmd, manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Manifest valid")
}
