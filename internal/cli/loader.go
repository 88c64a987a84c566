package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/ir"
)

// Error code constants shared by every command. Manifest validation codes
// (E1xx) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoManifest  = "E003" // No manifest given or configured
	ErrCodeLoadFailed  = "E004" // CUE load or compile failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeConfig      = "E008" // Config file invalid
	ErrCodeScenario    = "E009" // Scenario file invalid
)

// LoadError represents an error that occurred while loading a manifest.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadConfig reads the config file named by --config. A missing file
// yields the defaults, so commands work in a bare directory.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, ErrCodeConfig+": invalid config", err)
	}
	return cfg, nil
}

// manifestPath picks the manifest named on the command line, falling back
// to the configured one.
func manifestPath(opts *RootOptions, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	if p := cfg.ManifestPath(); p != "" {
		return p, nil
	}
	return "", &LoadError{Code: ErrCodeNoManifest, Message: "no manifest given and none configured"}
}

// LoadManifest compiles the manifest at path without validating it.
// Failures are returned as *LoadError.
func LoadManifest(path string) (*ir.Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest: %v", err)}
	}
	m, err := compiler.Load(path)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return m, nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeLoadFailed,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// loadErrorParts splits any error into a code and message for output.
func loadErrorParts(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
