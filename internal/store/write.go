package store

import (
	"context"
	"fmt"

	"github.com/spring/spring-sub006/internal/capability"
)

// SyncData is one stored GetSyncData payload.
type SyncData struct {
	Seq    int64
	Handle string
	Frame  int64
	Digest string
	Data   []byte
}

// Fault is one failed call-in.
type Fault struct {
	Seq        int64
	HandleID   string
	Handle     string
	Frame      int64
	Synced     bool
	Func       string
	Message    string
	Trace      string
	Fatal      bool
	Capability capability.Context
}

// SaveSyncData stores data for handle at frame, compressed, and returns
// the digest of the raw payload. Saving the same (handle, frame) twice
// replaces the earlier payload.
func (s *Store) SaveSyncData(ctx context.Context, handle string, frame int64, data []byte) (string, error) {
	sum := digest(data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_data (handle, frame, size, digest, blob)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(handle, frame) DO UPDATE SET
			size = excluded.size,
			digest = excluded.digest,
			blob = excluded.blob
	`,
		handle,
		frame,
		len(data),
		sum,
		compressBlob(data),
	)
	if err != nil {
		return "", fmt.Errorf("save sync data: %w", err)
	}
	return sum, nil
}

// RecordFault appends f to the fault log and returns its seq.
// f.Seq is ignored.
func (s *Store) RecordFault(ctx context.Context, f Fault) (int64, error) {
	capJSON, err := marshalCapability(f.Capability)
	if err != nil {
		return 0, fmt.Errorf("record fault: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO faults
		(handle_id, handle, frame, synced, func, message, trace, fatal, capability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.HandleID,
		f.Handle,
		f.Frame,
		boolToInt(f.Synced),
		f.Func,
		f.Message,
		f.Trace,
		boolToInt(f.Fatal),
		capJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("record fault: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record fault: %w", err)
	}
	return seq, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
