// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Snapshot writes a consistent copy of the database file to w.
//
// Description:
//
//	Uses VACUUM INTO, which reads one transaction's view while appends
//	continue, into a temporary file that is streamed to w and removed.
//
// Outputs:
//
//	int64 - Bytes written to w.
//	error - ErrStorageUnavailable wrapped for database failures.
func (s *SQLiteStore) Snapshot(ctx context.Context, w io.Writer) (int64, error) {
	dir, err := os.MkdirTemp("", "territory-history-")
	if err != nil {
		return 0, fmt.Errorf("snapshot history: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "history.db")
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return 0, mapSQLError("snapshot history", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("snapshot history: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("snapshot history: %w", err)
	}
	return n, nil
}

// RestoreSQLite replaces the database file at path with the snapshot read
// from r.
//
// Description:
//
//	The snapshot is written next to path and opened once, which checks it
//	and applies migrations, before it is renamed over path. Stale WAL and
//	shared-memory files are removed. No store may have path open.
func RestoreSQLite(r io.Reader, path string) error {
	if path == "" || path == ":memory:" {
		return fmt.Errorf("restore history: %q is not a file", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".restore-*")
	if err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	name := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(name)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restore history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}

	check, err := OpenSQLite(name)
	if err != nil {
		return fmt.Errorf("restore history: snapshot unreadable: %w", err)
	}
	if err := check.Close(); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(name + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore history: %w", err)
		}
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore history: %w", err)
		}
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	committed = true
	return nil
}
