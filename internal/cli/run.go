package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/debugsrv"
	"github.com/spring/spring-sub006/internal/engine"
)

// RunOptions holds flags for the run command. Flags that are set override
// the config file.
type RunOptions struct {
	*RootOptions
	Database  string
	Frames    int64
	Seed      uint64
	Threaded  bool
	DevMode   bool
	DebugAddr string
	Watch     bool

	// IDs allows overriding the instance ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs engine.IDGenerator
}

// RunSummary is printed when the engine stops.
type RunSummary struct {
	Frame   int64            `json:"frame"`
	Handles []string         `json:"handles"`
	Faults  map[string]int   `json:"faults"`
	Synced  map[string]int64 `json:"sync_checkpoints,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the configured handles and run the frame loop",
		Long: `Load the configured handles and run the frame loop.

The config file (--config, default luahost.yaml) names the VFS roots, the
handles to load, the optional CUE manifest and the runtime settings. Faults
and sync data checkpoints are recorded in the SQLite database.

With --watch, edits to the config file's settings block are applied to the
running host. With --debug-addr, an HTTP introspection server listens on
that address while the engine runs.

Example:
  luahost run --frames 300
  luahost run -c game.yaml --threaded --debug-addr 127.0.0.1:8089 --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().Int64Var(&opts.Frames, "frames", 0, "frames to run, 0 runs until interrupted")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "synced RNG seed")
	cmd.Flags().BoolVar(&opts.Threaded, "threaded", false, "run sim and render on separate goroutines")
	cmd.Flags().BoolVar(&opts.DevMode, "dev", false, "developer mode: raw files ahead of archives")
	cmd.Flags().StringVar(&opts.DebugAddr, "debug-addr", "", "listen address of the debug HTTP server")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload settings when the config file changes")

	return cmd
}

// applyRunFlags copies the flags the user set over the config.
func applyRunFlags(cmd *cobra.Command, opts *RunOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("frames") {
		cfg.Frames = opts.Frames
	}
	if flags.Changed("seed") {
		cfg.Seed = opts.Seed
	}
	if flags.Changed("threaded") {
		cfg.Threaded = opts.Threaded
	}
	if flags.Changed("dev") {
		cfg.DevMode = opts.DevMode
	}
	if flags.Changed("debug-addr") {
		cfg.Debug.Addr = opts.DebugAddr
	}
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, ErrCodeConfig+": invalid config", err)
	}

	so := sessionOptions{ids: opts.IDs}
	if opts.Format == "text" {
		out := cmd.OutOrStdout()
		so.echo = func(l EchoLine) { fmt.Fprintln(out, l) }
	}
	s, err := openSession(cfg, so)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start host", err)
	}
	defer s.Close()

	if err := s.loadHandles(); err != nil {
		return WrapExitError(ExitCommandError, "failed to load handles", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var background sync.WaitGroup
	defer background.Wait()
	defer cancel()

	if cfg.Debug.Addr != "" {
		srv := debugsrv.New(debugsrv.Options{
			Engine:   s.engine,
			Settings: s.settings,
			Faults:   s.store,
			Logger:   slog.Default(),
		})
		background.Add(1)
		go func() {
			defer background.Done()
			if err := srv.Serve(ctx, cfg.Debug.Addr); err != nil {
				slog.Error("debug server failed", "error", err)
			}
		}()
	}

	if opts.Watch {
		if _, err := os.Stat(opts.Config); err == nil {
			background.Add(1)
			go func() {
				defer background.Done()
				if err := config.Watch(ctx, opts.Config, s.settings, nil); err != nil {
					slog.Error("config watch failed", "error", err)
				}
			}()
		} else {
			formatter.VerboseLog("no config file at %s, --watch ignored", opts.Config)
		}
	}

	formatter.VerboseLog("running %d handle(s), frames=%d", len(s.engine.Instances()), cfg.Frames)
	err = s.engine.Run(ctx, cfg.Frames)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	summary, err := summarize(ctx, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read results", err)
	}
	if opts.Format == "json" {
		return formatter.JSON(summary)
	}
	fmt.Fprintf(formatter.Writer, "✓ Stopped at frame %d with %d handle(s) loaded\n", summary.Frame, len(summary.Handles))
	for _, name := range slices.Sorted(maps.Keys(summary.Faults)) {
		fmt.Fprintf(formatter.Writer, "  %s: %d fault(s)\n", name, summary.Faults[name])
	}
	return nil
}

// summarize reads the final state of a session.
func summarize(ctx context.Context, s *session) (RunSummary, error) {
	sum := RunSummary{
		Frame:   s.engine.Frame(),
		Handles: []string{},
		Faults:  map[string]int{},
		Synced:  map[string]int64{},
	}
	for _, inst := range s.engine.Instances() {
		sum.Handles = append(sum.Handles, inst.Handle.Name())
	}
	faults, err := s.store.Faults(context.WithoutCancel(ctx), "")
	if err != nil {
		return sum, err
	}
	for _, f := range faults {
		sum.Faults[f.Handle]++
	}
	for _, name := range sum.Handles {
		frames, err := s.store.SyncFrames(context.WithoutCancel(ctx), name)
		if err != nil {
			return sum, err
		}
		if len(frames) > 0 {
			sum.Synced[name] = int64(len(frames))
		}
	}
	return sum, nil
}
