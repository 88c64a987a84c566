package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/events"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Manifest string
	Filter   string // "managed" | "unsynced" | "controller" | ""
}

// EventEntry is one row of the event table.
type EventEntry struct {
	Name  string `json:"name"`
	Flags string `json:"flags"`
}

// EventTable is the complete event table and its hash.
type EventTable struct {
	Hash   string       `json:"hash"`
	Events []EventEntry `json:"events"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event table",
		Long: `List every event the host dispatches, with its flags.

The table is the standard engine events plus those declared in the
manifest (--manifest, or the one named in the config file).

Examples:
  luahost events
  luahost events --only controller
  luahost events --manifest ./manifest.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "CUE manifest (overrides config)")
	cmd.Flags().StringVar(&opts.Filter, "only", "", "only list managed, unsynced or controller events")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	reg, err := eventRegistry(opts)
	if err != nil {
		code, msg := loadErrorParts(err)
		_ = formatter.Error(code, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, msg))
	}

	keep := func(events.Info) bool { return true }
	switch opts.Filter {
	case "":
	case "managed":
		keep = events.Info.Managed
	case "unsynced":
		keep = events.Info.Unsynced
	case "controller":
		keep = events.Info.Controller
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --only %q: must be managed, unsynced or controller", opts.Filter))
	}

	hash, err := compiler.TableHash(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash event table", err)
	}
	table := EventTable{Hash: hash, Events: []EventEntry{}}
	for _, name := range reg.Names() {
		info, _ := reg.Info(name)
		if keep(info) {
			table.Events = append(table.Events, EventEntry{Name: name, Flags: info.Flags.String()})
		}
	}

	if opts.Format == "json" {
		return formatter.JSON(table)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	for _, e := range table.Events {
		fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Flags)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "\n%d event(s), table hash %s\n", len(table.Events), table.Hash)
	return nil
}

// eventRegistry builds the frozen event table from the selected manifest.
func eventRegistry(opts *EventsOptions) (*events.Registry, error) {
	path := opts.Manifest
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return nil, err
		}
		path = cfg.ManifestPath()
	}
	if path == "" {
		return events.DefaultRegistry(), nil
	}
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return compiler.Registry(m)
}
