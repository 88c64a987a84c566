package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/vfs"
)

// DefaultFile is the config file name looked for in the working directory.
const DefaultFile = "luahost.yaml"

// Config is the host configuration.
type Config struct {
	DevMode      bool   `yaml:"dev_mode"`
	Threaded     bool   `yaml:"threaded"`
	Seed         uint64 `yaml:"seed"`
	Frames       int64  `yaml:"frames"`
	FrameRate    int    `yaml:"frame_rate"`
	FaultBudget  int    `yaml:"fault_budget"`
	SyncInterval int64  `yaml:"sync_interval"`
	Database     string `yaml:"database"`

	// Manifest is an optional CUE file or directory declaring extra events
	// and handle overrides.
	Manifest string `yaml:"manifest"`

	// Handles lists the handle kinds to load, by name ("rules", "LuaUI", ...).
	Handles []string `yaml:"handles"`

	// Teams maps each team to its ally team; Team is the local team.
	Teams []int `yaml:"teams"`
	Team  int   `yaml:"team"`

	VFS   VFSConfig   `yaml:"vfs"`
	Debug DebugConfig `yaml:"debug"`

	// Settings are the initial values of the named runtime settings.
	Settings map[string]any `yaml:"settings"`

	// dir is the directory relative paths resolve against.
	dir string
}

// VFSConfig describes the file system scripts see.
type VFSConfig struct {
	Roots         []RootConfig `yaml:"roots"`
	WriteDir      string       `yaml:"write_dir"`
	WritePrefixes []string     `yaml:"write_prefixes"`
	Protected     []string     `yaml:"protected"`
}

// RootConfig mounts a directory or a zip archive as a read root.
type RootConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

// DebugConfig configures the HTTP introspection server.
type DebugConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		FaultBudget: 10,
		Database:    "luahost.db",
		Handles:     []string{"rules", "gaia", "ui"},
		Settings:    map[string]any{},
		dir:         ".",
	}
}

// Load reads the YAML file at path over Default. Relative paths inside the
// file resolve against the file's directory.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// LoadOrDefault is Load, returning Default when path does not exist.
func LoadOrDefault(path string) (Config, error) {
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

// Parse decodes YAML over Default and validates the result.
func Parse(raw []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values a YAML decode cannot.
func (c Config) Validate() error {
	var errs []error
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must be >= 0, got %d", c.Frames))
	}
	if c.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("frame_rate must be >= 0, got %d", c.FrameRate))
	}
	if c.SyncInterval < 0 {
		errs = append(errs, fmt.Errorf("sync_interval must be >= 0, got %d", c.SyncInterval))
	}
	if _, err := c.Kinds(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Teams) > 0 && (c.Team < 0 || c.Team >= len(c.Teams)) {
		errs = append(errs, fmt.Errorf("team %d out of range for %d teams", c.Team, len(c.Teams)))
	}
	for i, r := range c.VFS.Roots {
		if _, ok := vfs.ParseSource(r.Source); !ok {
			errs = append(errs, fmt.Errorf("vfs.roots[%d]: unknown source %q", i, r.Source))
		}
		if r.Path == "" {
			errs = append(errs, fmt.Errorf("vfs.roots[%d]: path is required", i))
		}
	}
	return errors.Join(errs...)
}

// Kinds resolves Handles to handle kinds in dispatch order.
func (c Config) Kinds() ([]handle.Kind, error) {
	seen := make(map[handle.Kind]bool)
	var out []handle.Kind
	for _, name := range c.Handles {
		k, err := handle.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("handles: %w", err)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Roster returns the team roster.
func (c Config) Roster() capability.Roster {
	return capability.Roster(c.Teams)
}

// Dir returns the directory relative paths resolve against.
func (c Config) Dir() string {
	if c.dir == "" {
		return "."
	}
	return c.dir
}

// SetDir changes the directory relative paths resolve against.
func (c *Config) SetDir(dir string) { c.dir = dir }

func (c Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// DatabasePath returns Database resolved against Dir. ":memory:" is kept.
func (c Config) DatabasePath() string {
	if c.Database == ":memory:" {
		return c.Database
	}
	return c.resolve(c.Database)
}

// ManifestPath returns Manifest resolved against Dir, or "" when unset.
func (c Config) ManifestPath() string {
	return c.resolve(c.Manifest)
}

// SettingStrings returns Settings with every value formatted as a string.
func (c Config) SettingStrings() map[string]string {
	out := make(map[string]string, len(c.Settings))
	for k, v := range c.Settings {
		out[k] = formatSetting(v)
	}
	return out
}

func formatSetting(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// BuildFS mounts the configured roots. Archives (.zip, .sdz) are opened
// with vfs.OpenZipRoot; anything else is mounted as a directory. The
// returned closer releases the archives.
func (c Config) BuildFS() (*vfs.FS, io.Closer, error) {
	var (
		roots   []vfs.Root
		closers multiCloser
	)
	for i, rc := range c.VFS.Roots {
		src, ok := vfs.ParseSource(rc.Source)
		if !ok {
			closers.Close()
			return nil, nil, fmt.Errorf("vfs.roots[%d]: unknown source %q", i, rc.Source)
		}
		p := c.resolve(rc.Path)
		switch strings.ToLower(filepath.Ext(p)) {
		case ".zip", ".sdz":
			zr, err := vfs.OpenZipRoot(p, src, rc.Prefix)
			if err != nil {
				closers.Close()
				return nil, nil, fmt.Errorf("vfs.roots[%d]: %w", i, err)
			}
			closers = append(closers, zr)
			roots = append(roots, zr.Root)
		default:
			st, err := os.Stat(p)
			if err != nil {
				closers.Close()
				return nil, nil, fmt.Errorf("vfs.roots[%d]: %w", i, err)
			}
			if !st.IsDir() {
				closers.Close()
				return nil, nil, fmt.Errorf("vfs.roots[%d]: %s is not a directory or archive", i, p)
			}
			roots = append(roots, vfs.Root{Source: src, FS: os.DirFS(p), Prefix: rc.Prefix, Name: p})
		}
	}

	opts := vfs.Options{
		Roots:         roots,
		WriteDir:      c.resolve(c.VFS.WriteDir),
		WritePrefixes: c.VFS.WritePrefixes,
	}
	if len(c.VFS.Protected) > 0 {
		opts.Protected = append(append([]string(nil), vfs.DefaultProtected...), c.VFS.Protected...)
	}
	return vfs.New(opts), closers, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
