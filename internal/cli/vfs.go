package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spring/spring-sub006/internal/vfs"
)

// VFSOptions holds flags for the vfs subcommands.
type VFSOptions struct {
	*RootOptions
	Mode      string
	Write     bool
	Pattern   string
	Recursive bool
}

// PathCheck is the outcome of checking one path.
type PathCheck struct {
	Path    string `json:"path"`
	Clean   string `json:"clean,omitempty"`
	Allowed bool   `json:"allowed"`
	Exists  bool   `json:"exists"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewVFSCommand creates the vfs command group.
func NewVFSCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VFSOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vfs",
		Short: "Inspect the script file system",
		Long: `Inspect the file system scripts see, as configured in the config file.

Read modes are ordered source letters: r (raw), M (mod archive),
m (map archive), b (base content), e (menu).`,
	}

	check := &cobra.Command{
		Use:   "check <path>...",
		Short: "Check whether scripts may read or write paths",
		Example: `  luahost vfs check LuaUI/main.lua --mode rM
  luahost vfs check --write LuaUI/Config/settings.lua ../escape.lua`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVFSCheck(opts, args, cmd)
		},
	}
	check.Flags().StringVar(&opts.Mode, "mode", string(vfs.ModeRawFirst), "read mode")
	check.Flags().BoolVar(&opts.Write, "write", false, "check write access instead of read access")

	ls := &cobra.Command{
		Use:           "ls <dir>",
		Short:         "List the files scripts see under a directory",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVFSList(opts, args[0], cmd)
		},
	}
	ls.Flags().StringVar(&opts.Mode, "mode", string(vfs.ModeRawFirst), "read mode")
	ls.Flags().StringVar(&opts.Pattern, "pattern", "", "base name pattern (path.Match syntax)")
	ls.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "descend into subdirectories")

	cmd.AddCommand(check, ls)
	return cmd
}

// openVFS mounts the configured file system.
func openVFS(opts *VFSOptions) (*vfs.FS, func(), error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	fsys, closer, err := cfg.BuildFS()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to mount vfs", err)
	}
	return fsys, func() { closer.Close() }, nil
}

func runVFSCheck(opts *VFSOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	fsys, closeFS, err := openVFS(opts)
	if err != nil {
		return err
	}
	defer closeFS()

	mode := vfs.Mode(opts.Mode)
	results := make([]PathCheck, 0, len(paths))
	denied := 0
	for _, p := range paths {
		r := PathCheck{Path: p}
		if opts.Write {
			clean, target, err := fsys.CheckWrite("check", p)
			r.Clean, r.Target = clean, target
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Allowed = true
			}
		} else {
			clean, _, err := fsys.CheckRead("check", p, mode)
			r.Clean = clean
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Allowed = true
				r.Exists = fsys.Exists(clean, mode)
			}
		}
		if !r.Allowed {
			denied++
		}
		results = append(results, r)
	}

	if opts.Format == "json" {
		if err := formatter.JSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			switch {
			case !r.Allowed:
				fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", r.Path, r.Error)
			case opts.Write:
				fmt.Fprintf(formatter.Writer, "✓ %s -> %s\n", r.Clean, r.Target)
			case r.Exists:
				fmt.Fprintf(formatter.Writer, "✓ %s\n", r.Clean)
			default:
				fmt.Fprintf(formatter.Writer, "✓ %s (allowed, not found)\n", r.Clean)
			}
		}
	}

	if denied > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d path(s) denied", denied))
	}
	return nil
}

func runVFSList(opts *VFSOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	fsys, closeFS, err := openVFS(opts)
	if err != nil {
		return err
	}
	defer closeFS()

	files, err := fsys.DirList(dir, opts.Pattern, vfs.Mode(opts.Mode), opts.Recursive)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "listing failed", err)
	}
	if files == nil {
		files = []string{}
	}
	if opts.Format == "json" {
		return formatter.JSON(files)
	}
	for _, f := range files {
		fmt.Fprintln(formatter.Writer, f)
	}
	return nil
}
