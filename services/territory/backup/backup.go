// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup streams the territory database and the capture history to
// and from files or Google Cloud Storage objects.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/territory/services/territory/history"
	storage "github.com/AleutianAI/territory/services/territory/storage/badger"
)

// maxPendingWrites bounds Badger's in-flight batches during restore.
const maxPendingWrites = 256

// ErrNotFound indicates a missing backup.
var ErrNotFound = errors.New("backup not found")

// Destination stores named backup streams.
type Destination interface {
	// Create opens name for writing. Closing the writer commits it.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Open opens name for reading. Returns ErrNotFound when absent.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Location describes where name lives, for logs and CLI output.
	Location(name string) string
}

// HistorySnapshotter copies the history database. history.SQLiteStore
// implements it.
type HistorySnapshotter interface {
	Snapshot(ctx context.Context, w io.Writer) (int64, error)
}

// Manifest describes one completed backup.
type Manifest struct {
	Name            string    `json:"name"`
	Location        string    `json:"location"`
	Bytes           int64     `json:"bytes"`
	Version         uint64    `json:"version"`
	HistoryLocation string    `json:"historyLocation,omitempty"`
	HistoryBytes    int64     `json:"historyBytes,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Name returns the default backup name for t.
func Name(t time.Time) string {
	return "territory-" + t.UTC().Format("20060102T150405Z") + ".bak"
}

// HistoryName returns the name of the history object stored beside the
// backup name.
func HistoryName(name string) string {
	return strings.TrimSuffix(name, ".bak") + ".history.db"
}

// Backup writes a full snapshot of db to dst under name, and of hist under
// HistoryName(name) when hist is not nil.
//
// Description:
//
//	Uses Badger's streaming backup, which reads a consistent snapshot
//	while writes continue. Each object is committed only if its stream
//	and its close both succeed. The two snapshots are taken one after the
//	other, so captures landing in between may appear in only one.
func Backup(ctx context.Context, db *storage.DB, hist HistorySnapshotter, dst Destination, name string, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := dst.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create backup %s: %w", name, err)
	}
	cw := &countingWriter{w: w}

	start := time.Now()
	version, err := db.Backup(cw, 0)
	if err != nil {
		_ = abort(w)
		return nil, fmt.Errorf("stream backup: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("commit backup %s: %w", name, err)
	}

	m := &Manifest{
		Name:      name,
		Location:  dst.Location(name),
		Bytes:     cw.n,
		Version:   version,
		CreatedAt: start.UTC(),
	}
	if hist != nil {
		hname := HistoryName(name)
		hw, err := dst.Create(ctx, hname)
		if err != nil {
			return nil, fmt.Errorf("create history backup %s: %w", hname, err)
		}
		n, err := hist.Snapshot(ctx, hw)
		if err != nil {
			_ = abort(hw)
			return nil, fmt.Errorf("stream history backup: %w", err)
		}
		if err := hw.Close(); err != nil {
			return nil, fmt.Errorf("commit history backup %s: %w", hname, err)
		}
		m.HistoryLocation = dst.Location(hname)
		m.HistoryBytes = n
	}
	logger.Info("backup written",
		"location", m.Location,
		"bytes", m.Bytes,
		"history_bytes", m.HistoryBytes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, nil
}

// Restore loads the backup name from src into db and, when historyPath is
// set, replaces the history database file with HistoryName(name).
//
// db should be empty and must not receive other writes during the load.
// Nothing may hold historyPath open. Backups taken without history leave
// the history file untouched.
func Restore(ctx context.Context, db *storage.DB, historyPath string, src Destination, name string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := src.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open backup %s: %w", name, err)
	}
	defer r.Close()

	start := time.Now()
	if err := db.Load(r, maxPendingWrites); err != nil {
		return fmt.Errorf("load backup %s: %w", name, err)
	}
	if historyPath != "" {
		if err := restoreHistory(ctx, historyPath, src, name, logger); err != nil {
			return err
		}
	}
	logger.Info("backup restored",
		"location", src.Location(name),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func restoreHistory(ctx context.Context, path string, src Destination, name string, logger *slog.Logger) error {
	hname := HistoryName(name)
	r, err := src.Open(ctx, hname)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("backup has no history snapshot, keeping current history", "location", src.Location(hname))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open history backup %s: %w", hname, err)
	}
	defer r.Close()
	if err := history.RestoreSQLite(r, path); err != nil {
		return fmt.Errorf("load history backup %s: %w", hname, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// aborter is implemented by writers that can discard instead of commit.
type aborter interface {
	Abort() error
}

func abort(w io.WriteCloser) error {
	if a, ok := w.(aborter); ok {
		return a.Abort()
	}
	return w.Close()
}
