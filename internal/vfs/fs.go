package vfs

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Root mounts a read-only file tree under a source.
//
// Prefix restricts which logical paths the root may serve; "" exposes the
// whole tree. Paths outside every prefix of the active mode are refused
// with EACCES before the tree is consulted.
type Root struct {
	Source Source
	FS     fs.FS
	Prefix string
	Name   string // for diagnostics
}

// Options configure an FS.
type Options struct {
	// Roots are consulted in mode order, then in the order given here.
	Roots []Root

	// WriteDir is the host directory raw writes land in. Empty disables
	// every write operation.
	WriteDir string

	// WritePrefixes lists the logical directories below WriteDir that
	// scripts may write to. An empty list allows nothing.
	WritePrefixes []string

	// Protected lists file names (compared case-insensitively, by final
	// element) that may never be written, renamed or removed. Defaults to
	// DefaultProtected.
	Protected []string

	// ForbiddenExts lists extensions (without dot) that may never be
	// written. Defaults to DefaultForbiddenExts.
	ForbiddenExts []string
}

// DefaultProtected are live configuration files of the host process.
var DefaultProtected = []string{
	"springsettings.cfg",
	"springsettings.yaml",
	"springrc",
	".springrc",
	"uikeys.txt",
	"luahost.yaml",
}

// DefaultForbiddenExts are executable-looking extensions.
var DefaultForbiddenExts = []string{
	"exe", "dll", "so", "dylib", "bat", "cmd", "com", "sh", "ps1", "py", "scr", "msi",
}

// FS is the capability-gated virtual file system.
//
// Every primitive validates the logical path (Clean) and the capability for
// the requested access before touching any underlying tree or the host
// disk. Rejections are *fs.PathError values wrapping EINVAL or EACCES so
// callers can treat them like any other I/O failure.
//
// FS is safe for concurrent use: it holds no mutable state after New.
type FS struct {
	roots         []Root
	writeDir      string
	writePrefixes []string
	protected     map[string]bool
	forbiddenExt  map[string]bool
}

// New creates an FS.
func New(opts Options) *FS {
	v := &FS{
		roots:        append([]Root(nil), opts.Roots...),
		writeDir:     opts.WriteDir,
		protected:    make(map[string]bool),
		forbiddenExt: make(map[string]bool),
	}
	for _, p := range opts.WritePrefixes {
		if p == "" || p == "." {
			v.writePrefixes = append(v.writePrefixes, "")
			continue
		}
		if c, err := Clean("mount", p); err == nil {
			v.writePrefixes = append(v.writePrefixes, c)
		}
	}

	protected := opts.Protected
	if protected == nil {
		protected = DefaultProtected
	}
	for _, name := range protected {
		v.protected[strings.ToLower(name)] = true
	}
	exts := opts.ForbiddenExts
	if exts == nil {
		exts = DefaultForbiddenExts
	}
	for _, e := range exts {
		v.forbiddenExt[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return v
}

// Roots returns the mounted roots.
func (v *FS) Roots() []Root {
	return append([]Root(nil), v.roots...)
}

// rootsFor returns the roots serving mode, in search order.
func (v *FS) rootsFor(mode Mode) []Root {
	var out []Root
	for _, src := range mode.Sources() {
		for _, r := range v.roots {
			if r.Source == src {
				out = append(out, r)
			}
		}
	}
	return out
}

// CheckRead validates p for reading under mode and returns the cleaned path
// and the roots that may serve it, in search order.
func (v *FS) CheckRead(op, p string, mode Mode) (string, []Root, error) {
	clean, err := Clean(op, p)
	if err != nil {
		return "", nil, err
	}
	var allowed []Root
	for _, r := range v.rootsFor(mode) {
		if under(r.Prefix, clean) {
			allowed = append(allowed, r)
		}
	}
	if len(allowed) == 0 {
		return "", nil, denied(op, p)
	}
	return clean, allowed, nil
}

// CheckWrite validates p for writing and returns the cleaned logical path
// and the host path it maps to.
func (v *FS) CheckWrite(op, p string) (string, string, error) {
	clean, err := Clean(op, p)
	if err != nil {
		return "", "", err
	}
	if v.writeDir == "" {
		return "", "", denied(op, p)
	}
	if v.protected[base(clean)] {
		return "", "", denied(op, p)
	}
	if v.forbiddenExt[ext(clean)] {
		return "", "", denied(op, p)
	}
	ok := false
	for _, prefix := range v.writePrefixes {
		if under(prefix, clean) {
			ok = true
			break
		}
	}
	if !ok {
		return "", "", denied(op, p)
	}
	return clean, filepath.Join(v.writeDir, filepath.FromSlash(clean)), nil
}

// Open opens p for reading from the first root of mode that has it.
func (v *FS) Open(p string, mode Mode) (fs.File, error) {
	clean, roots, err := v.CheckRead("open", p, mode)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		f, err := r.FS.Open(clean)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("vfs open failed", "path", clean, "root", r.Name, "error", err)
		}
	}
	return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
}

// ReadFile reads the whole of p.
func (v *FS) ReadFile(p string, mode Mode) ([]byte, error) {
	f, err := v.Open(p, mode)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && st.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: p, Err: errIsDir}
	}
	return io.ReadAll(f)
}

var errIsDir = errors.New("is a directory")

// Exists reports whether p names a readable regular file under mode.
func (v *FS) Exists(p string, mode Mode) bool {
	f, err := v.Open(p, mode)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && !st.IsDir()
}

// DirList lists files in dir whose base name matches pattern (path.Match
// syntax, "" matches everything). Results are logical paths, de-duplicated
// across roots and sorted. Only files that pass CheckRead are returned.
func (v *FS) DirList(dir, pattern string, mode Mode, recursive bool) ([]string, error) {
	return v.list(dir, pattern, mode, recursive, false)
}

// SubDirs lists directories in dir whose base name matches pattern.
func (v *FS) SubDirs(dir, pattern string, mode Mode, recursive bool) ([]string, error) {
	return v.list(dir, pattern, mode, recursive, true)
}

func (v *FS) list(dir, pattern string, mode Mode, recursive, dirs bool) ([]string, error) {
	clean, err := cleanDir("readdir", dir)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, invalid("readdir", pattern)
	}

	seen := make(map[string]bool)
	visible := false
	for _, r := range v.rootsFor(mode) {
		// The directory itself must be reachable through this root, or be
		// an ancestor of the root's prefix.
		if !under(r.Prefix, clean) && !(clean == "." || under(clean, r.Prefix)) {
			continue
		}
		visible = true

		visit := func(name string, isDir bool) {
			if isDir != dirs || name == "." || name == clean {
				return
			}
			if !under(r.Prefix, name) {
				return
			}
			if ok, _ := path.Match(pattern, path.Base(name)); ok {
				seen[name] = true
			}
		}

		if recursive {
			_ = fs.WalkDir(r.FS, clean, func(name string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				visit(name, d.IsDir())
				return nil
			})
			continue
		}
		entries, err := fs.ReadDir(r.FS, clean)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if clean != "." {
				name = clean + "/" + name
			}
			visit(name, e.IsDir())
		}
	}
	if !visible {
		return nil, denied("readdir", dir)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Create opens p on the host disk for writing, creating it if needed.
// append selects append mode instead of truncation.
func (v *FS) Create(p string, appendMode bool) (*os.File, error) {
	_, full, err := v.CheckWrite("open", p)
	if err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(full, flags, 0o644)
}

// WriteFile writes data to p, replacing any previous content.
func (v *FS) WriteFile(p string, data []byte) error {
	_, full, err := v.CheckWrite("write", p)
	if err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// MkdirAll creates directory p and its parents below WriteDir.
func (v *FS) MkdirAll(p string) error {
	_, full, err := v.CheckWrite("mkdir", p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

// Remove deletes p.
func (v *FS) Remove(p string) error {
	_, full, err := v.CheckWrite("remove", p)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

// Rename moves from to to. Both ends must be writable.
func (v *FS) Rename(from, to string) error {
	_, src, err := v.CheckWrite("rename", from)
	if err != nil {
		return err
	}
	_, dst, err := v.CheckWrite("rename", to)
	if err != nil {
		return err
	}
	return os.Rename(src, dst)
}
