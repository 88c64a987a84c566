package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"
)

// MaxInflate bounds ZlibDecompress output.
const MaxInflate = 64 << 20

// ErrTooLarge is returned when decompressed data exceeds the limit.
var ErrTooLarge = errors.New("vfs: decompressed data exceeds limit")

// ZlibCompress deflates data in zlib framing.
func ZlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ZlibDecompress inflates zlib data, refusing output larger than limit
// bytes. A limit that is not positive or exceeds MaxInflate is MaxInflate.
func ZlibDecompress(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxInflate
	}
	limit = min(limit, MaxInflate)
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

// PackZip writes every readable file below srcDir (searched with mode) into
// a zip archive at the writable logical path archive. Entry names are
// relative to srcDir, or to its parent when includeFolder is set so every
// entry sits below the folder's own name. Files the read gate refuses are
// skipped. Returns the number of files packed.
func (v *FS) PackZip(srcDir, archive string, includeFolder bool, mode Mode) (int, error) {
	files, err := v.DirList(srcDir, "", mode, true)
	if err != nil {
		return 0, err
	}
	dir, _ := cleanDir("readdir", srcDir)

	f, err := v.Create(archive, false)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	n := 0
	for _, name := range files {
		data, err := v.ReadFile(name, mode)
		if err != nil {
			slog.Debug("zip skip", "path", name, "error", err)
			continue
		}
		rel := name
		if dir != "." {
			rel = strings.TrimPrefix(name, dir+"/")
			if includeFolder {
				rel = path.Base(dir) + "/" + rel
			}
		}
		w, err := zw.Create(rel)
		if err != nil {
			return n, err
		}
		if _, err := w.Write(data); err != nil {
			return n, err
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// ZipRoot is a read root backed by a zip archive on disk.
type ZipRoot struct {
	Root
	closer io.Closer
}

// Close releases the archive.
func (z *ZipRoot) Close() error {
	return z.closer.Close()
}

// OpenZipRoot opens the archive at hostPath as a read root of source.
func OpenZipRoot(hostPath string, source Source, prefix string) (*ZipRoot, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open archive %s: %w", hostPath, err)
	}
	return &ZipRoot{
		Root:   Root{Source: source, FS: fs.FS(zr), Prefix: prefix, Name: hostPath},
		closer: f,
	}, nil
}
