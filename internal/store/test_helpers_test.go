package store

import (
	"path/filepath"
	"testing"

	"github.com/spring/spring-sub006/internal/capability"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFault creates a fault with minimal required fields.
func createTestFault(handle, fn string, frame int64, fatal bool) Fault {
	return Fault{
		HandleID:   "handle-" + handle,
		Handle:     handle,
		Frame:      frame,
		Synced:     true,
		Func:       fn,
		Message:    fn + " failed",
		Fatal:      fatal,
		Capability: capability.All(),
	}
}
