package vfs

import (
	"io/fs"
	"path"
	"strings"
	"syscall"

	"golang.org/x/text/unicode/norm"
)

// denied builds the error returned for a path outside the caller's
// capabilities. It reads like an ordinary EACCES failure.
func denied(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: syscall.EACCES}
}

// invalid builds the error returned for a malformed path.
func invalid(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: syscall.EINVAL}
}

// Clean validates a logical path and returns it in canonical form:
// NFC-normalised, slash-separated, relative, without "." or empty segments.
//
// Rejected with EINVAL: empty paths and paths containing NUL.
// Rejected with EACCES: absolute paths ("/x", "\x"), drive paths ("C:x"),
// and any path with a ".." segment, wherever it appears.
func Clean(op, p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", invalid(op, p)
	}
	if p[0] == '/' || p[0] == '\\' {
		return "", denied(op, p)
	}
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return "", denied(op, p)
	}

	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))

	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		switch s {
		case "..":
			return "", denied(op, p)
		case "", ".":
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return "", invalid(op, p)
	}
	return strings.Join(out, "/"), nil
}

// cleanDir is Clean that also accepts the VFS root ("", ".", "/"-free).
// The root is returned as ".".
func cleanDir(op, p string) (string, error) {
	if p == "" || p == "." || p == "./" {
		return ".", nil
	}
	return Clean(op, p)
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// under reports whether p lies at or below prefix. An empty prefix covers
// everything.
func under(prefix, p string) bool {
	if prefix == "" || prefix == "." {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// ext returns the lower-case extension of p without the dot.
func ext(p string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// base returns the lower-case final element of p.
func base(p string) string {
	return strings.ToLower(path.Base(p))
}
