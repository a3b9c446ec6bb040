// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GCRunner periodically rewrites BadgerDB's value log.
//
// Region documents are rewritten on every capture, so the value log
// accumulates stale versions quickly under load.
//
// Thread Safety: Start and Stop are safe to call from any goroutine; Stop is
// idempotent.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner creates a runner. It does nothing until Start is called.
//
// Inputs:
//
//	db - The BadgerDB instance. Must not be nil.
//	interval - Time between GC attempts. Must be positive.
//	ratio - Discard ratio in [0, 1].
//	logger - Optional logger; nil uses slog.Default().
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC loop.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts the loop and waits for it to exit.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value log files until BadgerDB reports nothing left.
func (r *GCRunner) collect() {
	for {
		err := r.db.RunValueLogGC(r.ratio)
		switch {
		case err == nil:
			gcRuns.WithLabelValues("rewrote").Inc()
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			gcRuns.WithLabelValues("skipped").Inc()
		default:
			gcRuns.WithLabelValues("error").Inc()
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
		return
	}
}
