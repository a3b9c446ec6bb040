// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementCapture is the InfluxDB measurement written per capture.
const MeasurementCapture = "capture"

const (
	// DefaultInfluxTimeout bounds one point write.
	DefaultInfluxTimeout = 5 * time.Second

	// DefaultInfluxQueue is the number of points held while the writer is
	// busy.
	DefaultInfluxQueue = 1024
)

// InfluxConfig locates the time-series sink.
type InfluxConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org" validate:"required"`
	Bucket  string        `yaml:"bucket" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Queue   int           `yaml:"queue" validate:"gte=0"`
}

// InfluxSink records one point per capture in InfluxDB.
//
// CaptureApplied only enqueues. One goroutine writes queued points, each
// bounded by the configured timeout. When the queue is full the point is
// dropped and counted; write failures are logged and otherwise ignored.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	queue   chan *write.Point
	closed  bool
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewInfluxSink connects a sink and starts its writer. logger nil uses
// slog.Default(). Close must be called to flush and stop it.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultInfluxTimeout
	}
	size := cfg.Queue
	if size <= 0 {
		size = DefaultInfluxQueue
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(timeout.Seconds() + 1))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	s := &InfluxSink{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout: timeout,
		logger:  logger.With("component", "notify.influx", "bucket", cfg.Bucket),
		queue:   make(chan *write.Point, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *InfluxSink) run() {
	defer close(s.done)
	for p := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.writer.WritePoint(ctx, p); err != nil {
			s.logger.Warn("influx write failed", "error", err)
		}
		cancel()
	}
}

// Ping reports whether the server is reachable.
func (s *InfluxSink) Ping(ctx context.Context) (bool, error) {
	return s.client.Ping(ctx)
}

// CaptureApplied implements Notifier. It never waits for the server.
func (s *InfluxSink) CaptureApplied(_ context.Context, ev Event) {
	if ev.Capture == nil {
		return
	}
	p := capturePoint(ev)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- p:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("influx queue full, dropping points", "capture_id", ev.Capture.ID, "dropped", n)
		}
	}
}

// Dropped returns how many points were discarded because the queue was full.
func (s *InfluxSink) Dropped() int64 {
	return s.dropped.Load()
}

func capturePoint(ev Event) *write.Point {
	res := ev.Capture
	ts := res.CapturedAt
	if ts.IsZero() {
		ts = ev.At
	}
	return influxdb2.NewPoint(MeasurementCapture,
		map[string]string{
			"user":      res.User,
			"path_type": string(res.PathType),
		},
		map[string]interface{}{
			"claimed":   len(res.ClaimedCells),
			"conflicts": len(res.Conflicts),
			"interior":  res.InteriorCount,
			"regions":   len(res.RegionsAffected),
			"ms":        res.ProcessingTimeMs,
		},
		ts,
	)
}

// Close stops accepting points, writes what is queued and releases the
// client. Safe to call more than once.
func (s *InfluxSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
		s.client.Close()
	})
}
