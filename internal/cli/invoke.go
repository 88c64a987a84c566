package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/events"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args   string
	Frames int64
	Allow  bool
}

// InvokeResult is what firing one event produced.
type InvokeResult struct {
	Event   string     `json:"event"`
	Frame   int64      `json:"frame"`
	Handles []string   `json:"handles"`
	Policy  string     `json:"policy"`
	Answer  *bool      `json:"answer,omitempty"`
	Echo    []EchoLine `json:"echo"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <event>",
		Short: "Fire one event at the configured handles",
		Long: `Load the configured handles, optionally step some frames, then fire
one event with the given arguments and print what the scripts echoed.

Events travel by their dispatch policy. Controller events (AllowCommand,
AllowUnitCreation, ...) are asked of every subscriber and the combined
answer is printed. First-responder events (KeyPress, GotChatMsg,
MousePress, ...) run back to front until a handle reports them handled,
and the printed answer says whether one did. Unsynced events are fired
from the render thread, all others from the sim thread. Nothing is written
to the configured database.

Example:
  luahost invoke GameFrame --args '[42]'
  luahost invoke AllowCommand --args '[7, 1, 10]' --frames 30`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeEvent(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "[]", "event arguments as a JSON array")
	cmd.Flags().Int64Var(&opts.Frames, "frames", 0, "frames to step before firing")
	cmd.Flags().BoolVar(&opts.Allow, "allow", false, "ask the event as a controller even if it is not flagged as one")

	return cmd
}

func invokeEvent(opts *InvokeOptions, event string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var args []any
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --args JSON array: %v", err))
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	result := InvokeResult{Event: event, Handles: []string{}, Echo: []EchoLine{}}
	s, err := openSession(cfg, sessionOptions{
		database: ":memory:",
		echo:     func(l EchoLine) { result.Echo = append(result.Echo, l) },
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start host", err)
	}
	defer s.Close()

	if !s.registry.IsKnown(event) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event %q", event))
	}
	if err := s.loadHandles(); err != nil {
		return WrapExitError(ExitCommandError, "failed to load handles", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for range opts.Frames {
		s.engine.Step(ctx)
	}

	fireCtx := s.threadFor(ctx, event)
	result.Policy = s.registry.Policy(event).String()
	switch {
	case opts.Allow:
		ok := s.engine.Dispatcher().AllowAll(fireCtx, event, args...)
		result.Answer = &ok
		result.Policy = events.PolicyControl.String()
	case s.registry.Policy(event) == events.PolicyForward:
		s.engine.Dispatcher().Notify(fireCtx, event, args...)
	default:
		ok := s.engine.Dispatcher().Fire(fireCtx, event, args...)
		result.Answer = &ok
	}
	s.engine.Flush(ctx)

	result.Frame = s.engine.Frame()
	for _, inst := range s.engine.Instances() {
		result.Handles = append(result.Handles, inst.Handle.Name())
	}

	if opts.Format == "json" {
		return formatter.JSON(result)
	}
	for _, l := range result.Echo {
		fmt.Fprintln(formatter.Writer, l)
	}
	if result.Answer != nil {
		fmt.Fprintf(formatter.Writer, "%s -> %t\n", event, *result.Answer)
	} else {
		fmt.Fprintf(formatter.Writer, "%s delivered to %d handle(s)\n", event, len(result.Handles))
	}
	return nil
}
