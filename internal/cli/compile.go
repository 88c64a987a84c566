package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the compiled manifest and its hashes.
type CompilationResult struct {
	Hash       string       `json:"hash"`
	EventsHash string       `json:"events_hash"`
	Manifest   *ir.Manifest `json:"manifest"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [manifest]",
		Short: "Compile a CUE manifest to canonical JSON",
		Long: `Compile a CUE manifest to canonical JSON.

The manifest is validated, then written as RFC 8785 canonical JSON. The
manifest hash is independent of declaration order; the events hash covers
the complete event table (standard events plus the manifest's), so two
hosts agree on it exactly when their dispatch tables match.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	path, err := manifestPath(opts.RootOptions, args)
	if err != nil {
		code, msg := loadErrorParts(err)
		return outputCompileError(formatter, code, msg)
	}

	formatter.VerboseLog("Compiling manifest %s", path)
	m, err := LoadManifest(path)
	if err != nil {
		code, msg := loadErrorParts(err)
		return outputCompileError(formatter, code, msg)
	}
	if errs := compiler.Validate(m); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	reg, err := compiler.Registry(m)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	result := CompilationResult{Manifest: m}
	if result.Hash, err = ir.ManifestHash(m); err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	if result.EventsHash, err = compiler.TableHash(reg); err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}

	if opts.Output != "" {
		if err := writeCanonical(m, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	m := result.Manifest
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d event(s), %d handle override(s)\n\n", len(m.Events), len(m.Handles))

	if len(m.Events) > 0 {
		fmt.Fprintln(formatter.Writer, "Events:")
		for _, e := range m.Events {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Name, eventFlags(e.Managed, e.Unsynced, e.Controller))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(m.Handles) > 0 {
		fmt.Fprintln(formatter.Writer, "Handles:")
		for _, h := range m.Handles {
			fmt.Fprintf(formatter.Writer, "  %s\n", h.Kind)
		}
		fmt.Fprintln(formatter.Writer)
	}

	fmt.Fprintf(formatter.Writer, "manifest hash: %s\n", result.Hash)
	fmt.Fprintf(formatter.Writer, "events hash:   %s\n", result.EventsHash)
	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical manifest to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// writeCanonical writes the manifest to a file in canonical JSON format.
func writeCanonical(m *ir.Manifest, filename string) error {
	data, err := ir.MarshalCanonical(m.Object())
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// eventFlags renders event flags the way the event table prints them.
func eventFlags(managed, unsynced, controller bool) string {
	var f events.Flags
	if managed {
		f |= events.Managed
	}
	if unsynced {
		f |= events.Unsynced
	}
	if controller {
		f |= events.Controller
	}
	return f.String()
}
