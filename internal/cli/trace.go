package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Handle   string // optional - filter to one handle
	From     int64
	To       int64
}

// TraceEntry is one recorded event in the timeline: a sync data
// checkpoint or a failed call-in.
type TraceEntry struct {
	Frame   int64  `json:"frame"`
	Seq     int64  `json:"seq"`
	Type    string `json:"type"` // "sync" or "fault"
	Handle  string `json:"handle"`
	Digest  string `json:"digest,omitempty"`
	Size    int    `json:"size,omitempty"`
	Func    string `json:"func,omitempty"`
	Synced  bool   `json:"synced,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
	Message string `json:"message,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Handles     int `json:"handles"`
	Checkpoints int `json:"checkpoints"`
	Faults      int `json:"faults"`
	Fatal       int `json:"fatal"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded timeline of a run",
		Long: `Show what a run recorded in its database, ordered by frame.

The timeline holds every sync data checkpoint (with its digest) and every
failed call-in (with the function, side and whether it was fatal).

Examples:
  luahost trace --db ./luahost.db
  luahost trace --db ./luahost.db --handle LuaRules --from 100 --to 200
  luahost trace --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Handle, "handle", "", "only show this handle")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first frame to show")
	cmd.Flags().Int64Var(&opts.To, "to", -1, "last frame to show, -1 for no limit")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath := opts.Database
	if dbPath == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		dbPath = cfg.DatabasePath()
	}
	st, err := openExisting(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := buildTrace(ctx, st, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(result)
	}
	outputTraceText(formatter, result)
	return nil
}

// openExisting opens a database that must already exist.
func openExisting(path string) (*store.Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database not found: %s", path)
		}
	}
	return store.Open(path)
}

// buildTrace merges sync checkpoints and faults into one timeline ordered
// by frame. Within a frame checkpoints come first, then faults by seq.
func buildTrace(ctx context.Context, st *store.Store, opts *TraceOptions) (TraceResult, error) {
	result := TraceResult{Timeline: []TraceEntry{}}

	handles := []string{opts.Handle}
	if opts.Handle == "" {
		var err error
		if handles, err = st.Handles(ctx); err != nil {
			return result, err
		}
	}
	inRange := func(frame int64) bool {
		return frame >= opts.From && (opts.To < 0 || frame <= opts.To)
	}

	seen := map[string]bool{}
	for _, h := range handles {
		frames, err := st.SyncFrames(ctx, h)
		if err != nil {
			return result, err
		}
		for _, f := range frames {
			if !inRange(f) {
				continue
			}
			d, err := st.SyncDataAt(ctx, h, f)
			if err != nil && !errors.Is(err, store.ErrCorrupt) {
				return result, err
			}
			e := TraceEntry{Frame: f, Seq: d.Seq, Type: "sync", Handle: h, Digest: d.Digest, Size: len(d.Data)}
			if err != nil {
				e.Message = err.Error()
			}
			result.Timeline = append(result.Timeline, e)
			result.Stats.Checkpoints++
			seen[h] = true
		}
	}

	faults, err := st.FindFaults(ctx, store.FaultFilter(opts.Handle, opts.From, opts.To, nil))
	if err != nil {
		return result, err
	}
	for _, f := range faults {
		result.Timeline = append(result.Timeline, TraceEntry{
			Frame:   f.Frame,
			Seq:     f.Seq,
			Type:    "fault",
			Handle:  f.Handle,
			Func:    f.Func,
			Synced:  f.Synced,
			Fatal:   f.Fatal,
			Message: f.Message,
		})
		result.Stats.Faults++
		if f.Fatal {
			result.Stats.Fatal++
		}
		seen[f.Handle] = true
	}
	result.Stats.Handles = len(seen)

	slices.SortStableFunc(result.Timeline, func(a, b TraceEntry) int {
		if a.Frame != b.Frame {
			return cmp.Compare(a.Frame, b.Frame)
		}
		if a.Type != b.Type {
			return strings.Compare(b.Type, a.Type) // "sync" before "fault"
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return result, nil
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) {
	w := formatter.Writer
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}

	fmt.Fprintln(w, "Timeline:")
	for _, e := range result.Timeline {
		switch e.Type {
		case "sync":
			line := fmt.Sprintf("  [f=%d] %s sync %s (%d bytes)", e.Frame, e.Handle, shortDigest(e.Digest), e.Size)
			if e.Message != "" {
				line += " CORRUPT"
			}
			fmt.Fprintln(w, line)
		default:
			side := "unsynced"
			if e.Synced {
				side = "synced"
			}
			mark := "error"
			if e.Fatal {
				mark = "FATAL"
			}
			fmt.Fprintf(w, "  [f=%d] %s %s %s(%s): %s\n", e.Frame, e.Handle, mark, e.Func, side, firstLine(e.Message))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d handle(s), %d checkpoint(s), %d fault(s), %d fatal\n",
		result.Stats.Handles, result.Stats.Checkpoints, result.Stats.Faults, result.Stats.Fatal)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
