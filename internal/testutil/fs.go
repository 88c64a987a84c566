package testutil

import (
	"log/slog"
	"testing/fstest"

	"github.com/spring/spring-sub006/internal/vfs"
)

// MapTree turns path -> source pairs into an in-memory tree.
func MapTree(files map[string]string) fstest.MapFS {
	m := make(fstest.MapFS, len(files))
	for name, src := range files {
		m[name] = &fstest.MapFile{Data: []byte(src)}
	}
	return m
}

// ArchiveFS serves files as if they came from the game archive, which every
// production read mode searches.
func ArchiveFS(files map[string]string) *vfs.FS {
	return vfs.New(vfs.Options{Roots: []vfs.Root{{Source: vfs.SourceMod, FS: MapTree(files)}}})
}

// RawFS serves files as plain on-disk content, visible only to raw modes.
func RawFS(files map[string]string) *vfs.FS {
	return vfs.New(vfs.Options{Roots: []vfs.Root{{Source: vfs.SourceRaw, FS: MapTree(files)}}})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
