package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string // recorded run to compare against; empty runs twice
	Frames   int64
	Interval int64
}

// ReplayHandleResult holds the replay result for a single handle.
type ReplayHandleResult struct {
	Handle          string `json:"handle"`
	Checkpoints     int    `json:"checkpoints"`
	Deterministic   bool   `json:"deterministic"`
	FirstDivergence *int64 `json:"first_divergence,omitempty"`
	Expected        string `json:"expected,omitempty"`
	Actual          string `json:"actual,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Frames           int64                `json:"frames"`
	Reference        string               `json:"reference"` // "rerun" or the database path
	Handles          []ReplayHandleResult `json:"handles"`
	AllDeterministic bool                 `json:"all_deterministic"`
}

// digests maps handle name to frame to sync data digest.
type digests map[string]map[int64]string

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run the configured handles and verify sync data is deterministic",
		Long: `Run the configured handles for a number of frames, checkpointing every
synced state's GetSyncData, and compare the digests against a reference.

Without --db the reference is a second identical run. With --db it is a
database recorded by an earlier 'luahost run' with the same config, seed
and sync interval; only frames checkpointed in both are compared.

Exit codes:
  0 - Every handle is deterministic
  1 - Sync data diverged
  2 - Command error (config, database not found, etc.)

Examples:
  luahost replay --frames 600
  luahost replay --db ./luahost.db
  luahost replay --frames 100 --interval 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "recorded database to compare against")
	cmd.Flags().Int64Var(&opts.Frames, "frames", 0, "frames to run (default: config frames, the recording's last checkpoint, or 300)")
	cmd.Flags().Int64Var(&opts.Interval, "interval", 0, "checkpoint interval in frames (default: config sync_interval, or 1)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Interval > 0 {
		cfg.SyncInterval = opts.Interval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 1
	}

	result := ReplayResult{Reference: "rerun", AllDeterministic: true, Handles: []ReplayHandleResult{}}

	var reference digests
	frames := opts.Frames
	if opts.Database != "" {
		result.Reference = opts.Database
		st, err := openExisting(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		reference, err = collectDigests(ctx, st)
		st.Close()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read recording", err)
		}
		if frames <= 0 {
			frames = lastFrame(reference)
		}
	}
	if frames <= 0 {
		frames = cfg.Frames
	}
	if frames <= 0 {
		frames = 300
	}
	result.Frames = frames

	formatter.VerboseLog("replaying %d frame(s), checkpoint every %d", frames, cfg.SyncInterval)
	actual, err := replayRun(ctx, cfg, frames)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay run failed", err)
	}
	if reference == nil {
		if reference, err = replayRun(ctx, cfg, frames); err != nil {
			return WrapExitError(ExitCommandError, "replay run failed", err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(reference)) {
		hr := compareHandle(name, reference[name], actual[name], frames)
		if !hr.Deterministic {
			result.AllDeterministic = false
		}
		result.Handles = append(result.Handles, hr)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result)
}

// replayRun steps a fresh engine built from cfg against an in-memory store
// and returns every checkpoint digest it wrote.
func replayRun(ctx context.Context, cfg config.Config, frames int64) (digests, error) {
	s, err := openSession(cfg, sessionOptions{database: ":memory:", echo: func(EchoLine) {}})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.loadHandles(); err != nil {
		return nil, err
	}
	for range frames {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.engine.Step(ctx)
	}
	return collectDigests(ctx, s.store)
}

// collectDigests reads every stored checkpoint digest.
func collectDigests(ctx context.Context, st *store.Store) (digests, error) {
	names, err := st.Handles(ctx)
	if err != nil {
		return nil, err
	}
	out := digests{}
	for _, name := range names {
		frames, err := st.SyncFrames(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			continue
		}
		out[name] = make(map[int64]string, len(frames))
		for _, f := range frames {
			d, err := st.SyncDataAt(ctx, name, f)
			if err != nil {
				return nil, fmt.Errorf("%s frame %d: %w", name, f, err)
			}
			out[name][f] = d.Digest
		}
	}
	return out, nil
}

func lastFrame(d digests) int64 {
	var last int64
	for _, frames := range d {
		for f := range frames {
			last = max(last, f)
		}
	}
	return last
}

// compareHandle finds the first frame up to limit where the replayed
// digest differs from, or is missing against, the reference.
func compareHandle(name string, want, got map[int64]string, limit int64) ReplayHandleResult {
	hr := ReplayHandleResult{Handle: name, Deterministic: true}
	for _, f := range slices.Sorted(maps.Keys(want)) {
		if f > limit {
			break
		}
		hr.Checkpoints++
		if got[f] == want[f] {
			continue
		}
		hr.Deterministic = false
		hr.FirstDivergence = &f
		hr.Expected = want[f]
		hr.Actual = got[f]
		break
	}
	return hr
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	status := "ok"
	if !result.AllDeterministic {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}
	if !result.AllDeterministic {
		response.Error = &CLIError{
			Code:    "E_NONDETERMINISTIC",
			Message: "sync data diverged during replay",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	if len(result.Handles) == 0 {
		fmt.Fprintln(w, "No sync data checkpoints to compare.")
		return nil
	}

	fmt.Fprintf(w, "Replay of %d frame(s) against %s\n\n", result.Frames, result.Reference)
	for _, hr := range result.Handles {
		if hr.Deterministic {
			fmt.Fprintf(w, "✓ %s: %d checkpoint(s) match\n", hr.Handle, hr.Checkpoints)
			continue
		}
		actual := hr.Actual
		if actual == "" {
			actual = "(missing)"
		}
		fmt.Fprintf(w, "✗ %s: diverged at frame %d\n", hr.Handle, *hr.FirstDivergence)
		fmt.Fprintf(w, "    expected %s\n", hr.Expected)
		fmt.Fprintf(w, "    actual   %s\n", actual)
	}

	fmt.Fprintln(w)
	if !result.AllDeterministic {
		fmt.Fprintln(w, "✗ Determinism verification failed")
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	fmt.Fprintln(w, "✓ All handles deterministic")
	return nil
}
