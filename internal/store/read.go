package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrCorrupt is returned when a stored payload does not match its digest.
var ErrCorrupt = errors.New("store: sync data digest mismatch")

// LatestSyncData returns the most recent payload stored for handle.
func (s *Store) LatestSyncData(ctx context.Context, handle string) (SyncData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, handle, frame, digest, blob
		FROM sync_data
		WHERE handle = ?
		ORDER BY frame DESC, seq DESC
		LIMIT 1
	`, handle)
	return scanSyncData(row)
}

// SyncDataAt returns the payload stored for handle at frame.
func (s *Store) SyncDataAt(ctx context.Context, handle string, frame int64) (SyncData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, handle, frame, digest, blob
		FROM sync_data
		WHERE handle = ? AND frame = ?
	`, handle, frame)
	return scanSyncData(row)
}

// SyncFrames returns the frames with stored payloads for handle, ascending.
func (s *Store) SyncFrames(ctx context.Context, handle string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame FROM sync_data
		WHERE handle = ?
		ORDER BY frame ASC
	`, handle)
	if err != nil {
		return nil, fmt.Errorf("query sync frames: %w", err)
	}
	defer rows.Close()

	frames := []int64{}
	for rows.Next() {
		var f int64
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan sync frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync frames: %w", err)
	}
	return frames, nil
}

func scanSyncData(row *sql.Row) (SyncData, error) {
	var (
		d    SyncData
		blob []byte
	)
	if err := row.Scan(&d.Seq, &d.Handle, &d.Frame, &d.Digest, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncData{}, ErrNotFound
		}
		return SyncData{}, fmt.Errorf("scan sync data: %w", err)
	}
	data, err := decompressBlob(blob)
	if err != nil {
		return SyncData{}, err
	}
	if digest(data) != d.Digest {
		return SyncData{}, fmt.Errorf("%s frame %d: %w", d.Handle, d.Frame, ErrCorrupt)
	}
	d.Data = data
	return d, nil
}

// Faults returns the faults recorded for handle in seq order. An empty
// handle returns every fault.
func (s *Store) Faults(ctx context.Context, handle string) ([]Fault, error) {
	return s.FindFaults(ctx, FaultFilter(handle, 0, -1, nil))
}

// FatalCount returns the number of fatal faults recorded for handle.
func (s *Store) FatalCount(ctx context.Context, handle string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM faults WHERE handle = ? AND fatal = 1`, handle,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count faults: %w", err)
	}
	return n, nil
}

func scanFault(rows *sql.Rows) (Fault, error) {
	var (
		f             Fault
		synced, fatal int
		capJSON       string
	)
	if err := rows.Scan(&f.Seq, &f.HandleID, &f.Handle, &f.Frame, &synced,
		&f.Func, &f.Message, &f.Trace, &fatal, &capJSON); err != nil {
		return Fault{}, fmt.Errorf("scan fault: %w", err)
	}
	f.Synced = synced != 0
	f.Fatal = fatal != 0
	c, err := unmarshalCapability(capJSON)
	if err != nil {
		return Fault{}, err
	}
	f.Capability = c
	return f, nil
}

// Handles returns every handle name with stored sync data or faults,
// sorted.
func (s *Store) Handles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle FROM sync_data
		UNION
		SELECT handle FROM faults
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query handles: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handles: %w", err)
	}
	return names, nil
}
