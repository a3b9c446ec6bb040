// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the BadgerDB instance that holds region
// and user-stats documents.
//
// Every document lives under "<prefix>/<id>" and is read-modify-written in a
// single optimistic transaction. A transaction that loses a race fails its
// commit with ErrConflict; Update retries it a bounded number of times.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the territory database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Used by tests and the memory backend.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil silences it.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a value log rewrite.
	GCDiscardRatio float64

	// ConflictRetries is how many times Update re-runs a conflicting
	// transaction before giving up with ErrConflict.
	ConflictRetries int

	// RetryBackoff is the base delay between retries; attempt n waits n times
	// this long.
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		GCInterval:      5 * time.Minute,
		GCDiscardRatio:  0.5,
		ConflictRetries: 5,
		RetryBackoff:    2 * time.Millisecond,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:        true,
		ConflictRetries: 5,
		RetryBackoff:    time.Millisecond,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB instance with GC and retrying transactions.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB
	cfg      Config
	gcRunner *GCRunner
}

// Open opens the database described by cfg and starts value log GC when
// configured.
//
// Outputs:
//
//	*DB - The database. Caller must Close it.
//	error - Non-nil if the path is missing or BadgerDB cannot open.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", ErrUnavailable, err)
	}

	db := &DB{DB: bdb, cfg: cfg}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			bdb.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		db.gcRunner = runner
		runner.Start()
	}
	return db, nil
}

// OpenInMemory opens an in-memory database with InMemoryConfig.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gcRunner != nil {
		d.gcRunner.Stop()
	}
	return d.DB.Close()
}

// InMemory reports whether the database keeps no files.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// Update runs fn in a read-write transaction and commits it, re-running the
// whole transaction when the commit conflicts.
//
// Description:
//
//	fn must be safe to run more than once: it sees fresh reads on every
//	attempt. op labels the conflict metric.
//
// Outputs:
//
//	error - fn's error unchanged, ErrConflict after ConflictRetries failed
//	        attempts, ErrUnavailable when the database is closed, or the
//	        context error.
func (d *DB) Update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	attempts := d.cfg.ConflictRetries + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		err := d.updateOnce(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		txnConflicts.WithLabelValues(op).Inc()
		if attempt >= attempts {
			return fmt.Errorf("%s after %d attempts: %w", op, attempt, err)
		}
		if d.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * d.cfg.RetryBackoff):
			}
		}
	}
}

// UpdateOnce runs fn in a single read-write transaction without retrying.
func (d *DB) UpdateOnce(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.updateOnce(fn)
}

func (d *DB) updateOnce(fn func(txn *badger.Txn) error) error {
	if d.DB.IsClosed() {
		return ErrUnavailable
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return translate(err)
	}
	return translate(txn.Commit())
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if d.DB.IsClosed() {
		return ErrUnavailable
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return translate(fn(txn))
}

// translate maps BadgerDB errors onto this package's sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
