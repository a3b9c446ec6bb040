// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the service's OTel instruments. All names carry the
// "territory_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts requests by method, route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Capture Metrics ---

	// CapturesTotal counts submissions by path type and status.
	CapturesTotal metric.Int64Counter

	// CaptureDuration records submission duration in seconds.
	CaptureDuration metric.Float64Histogram

	// CellsClaimed counts claimed cells by path type.
	CellsClaimed metric.Int64Counter

	// ConflictsTotal counts cells taken from another owner.
	ConflictsTotal metric.Int64Counter

	// RegionRetriesTotal counts region writes retried after a conflict.
	RegionRetriesTotal metric.Int64Counter

	// DegenerateGeometryTotal counts classification fallbacks by kind.
	DegenerateGeometryTotal metric.Int64Counter

	// --- Side Effect Metrics ---

	// SideEffectFailuresTotal counts failed best-effort steps (history,
	// stats, notify) by step.
	SideEffectFailuresTotal metric.Int64Counter
}

// NewMetrics registers all instruments with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("territory"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"territory_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"territory_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"territory_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.CapturesTotal, err = meter.Int64Counter(
		"territory_captures_total",
		metric.WithDescription("Total capture submissions"),
		metric.WithUnit("{capture}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create captures_total: %w", err)
	}

	m.CaptureDuration, err = meter.Float64Histogram(
		"territory_capture_duration_seconds",
		metric.WithDescription("Capture processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create capture_duration: %w", err)
	}

	m.CellsClaimed, err = meter.Int64Counter(
		"territory_cells_claimed_total",
		metric.WithDescription("Total cells claimed"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cells_claimed_total: %w", err)
	}

	m.ConflictsTotal, err = meter.Int64Counter(
		"territory_conflicts_total",
		metric.WithDescription("Cells taken from another owner"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create conflicts_total: %w", err)
	}

	m.RegionRetriesTotal, err = meter.Int64Counter(
		"territory_region_retries_total",
		metric.WithDescription("Region writes retried after a storage conflict"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create region_retries_total: %w", err)
	}

	m.DegenerateGeometryTotal, err = meter.Int64Counter(
		"territory_degenerate_geometry_total",
		metric.WithDescription("Classification fallbacks on degenerate geometry"),
		metric.WithUnit("{path}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create degenerate_geometry_total: %w", err)
	}

	m.SideEffectFailuresTotal, err = meter.Int64Counter(
		"territory_side_effect_failures_total",
		metric.WithDescription("Failed best-effort steps after a capture"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create side_effect_failures_total: %w", err)
	}

	return m, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("territory"))
	if err != nil {
		panic(fmt.Sprintf("noop metrics: %v", err))
	}
	return m
}

// GinMiddleware records HTTP request metrics labeled by route template.
//
// Thread Safety: Safe for concurrent use.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.HTTPActiveRequests.Add(ctx, 1)
		defer m.HTTPActiveRequests.Add(context.WithoutCancel(ctx), -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.Int("status", c.Writer.Status()),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
