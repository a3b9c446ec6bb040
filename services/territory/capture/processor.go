// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capture turns submitted paths into applied cell ownership.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/territory/pkg/logging"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/telemetry"
)

const tracerName = "territory.capture"

const (
	// DefaultRegionWorkers bounds concurrent region writes per capture.
	DefaultRegionWorkers = 8

	// DefaultConflictRetries is how often a conflicting region write is
	// retried.
	DefaultConflictRetries = 3

	// DefaultRetryBackoff is the base delay between region retries.
	DefaultRetryBackoff = 5 * time.Millisecond
)

// Config tunes a Processor. Zero fields take defaults; a negative
// ConflictRetries disables retries.
type Config struct {
	RegionWorkers   int
	ConflictRetries int
	RetryBackoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RegionWorkers <= 0 {
		c.RegionWorkers = DefaultRegionWorkers
	}
	switch {
	case c.ConflictRetries == 0:
		c.ConflictRetries = DefaultConflictRetries
	case c.ConflictRetries < 0:
		c.ConflictRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Index      *grid.Index
	Classifier *classify.Classifier
	Regions    region.Store

	// History receives one record per capture that wrote at least one
	// region. Nil disables it.
	History history.Store

	// Metrics nil records nothing.
	Metrics *telemetry.Metrics

	// Logger nil uses slog.Default().
	Logger *slog.Logger
}

// Processor classifies paths and applies their claims region by region.
//
// # Consistency
//
// Each region is written atomically, but a capture spanning several regions
// is not: regions are applied independently and concurrently, so readers may
// observe some regions updated before others, and a failed capture can leave
// earlier regions written. The failure is reported as a PartialFailureError
// listing both sets.
//
// Once input validation passes, a submission runs to completion even if
// the caller's context is cancelled.
//
// Thread Safety: Safe for concurrent use.
type Processor struct {
	index      *grid.Index
	classifier *classify.Classifier
	regions    region.Store
	history    history.Store
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(deps Deps, cfg Config) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Processor{
		index:      deps.Index,
		classifier: deps.Classifier,
		regions:    deps.Regions,
		history:    deps.History,
		metrics:    metrics,
		logger:     logger.With("component", "capture"),
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// SubmitPath classifies in and applies its claims.
//
// Description:
//
//	Rejects invalid input before any write. Claimed cells are grouped by
//	region and each group is applied with one ApplyClaims call, retrying
//	ErrStorageConflict up to ConflictRetries times. The method recorded on
//	each cell follows the path type: loop, line or click. One history
//	record is appended for the written regions, including the written part
//	of a partial failure; a history failure is logged and does not fail the
//	capture.
//
// Outputs:
//
//	*Result - The applied capture.
//	error - classify.ErrInvalidInput with a reason, or *PartialFailureError.
func (p *Processor) SubmitPath(ctx context.Context, in *classify.Input) (*Result, error) {
	return p.submit(ctx, "capture.SubmitPath", in, "")
}

// SubmitSingleCapture claims the one cell containing (lat, lng).
//
// method may be empty for click, or any valid region.Method to record how
// the cell was taken.
func (p *Processor) SubmitSingleCapture(ctx context.Context, user, color string, lat, lng float64, method region.Method) (*Result, error) {
	if method != "" && !method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", classify.ErrInvalidInput, method)
	}
	if method == "" {
		method = region.MethodClick
	}
	in := &classify.Input{
		User:   user,
		Color:  color,
		Points: []classify.Point{{Lat: lat, Lng: lng}},
	}
	return p.submit(ctx, "capture.SubmitSingleCapture", in, method)
}

func (p *Processor) submit(ctx context.Context, spanName string, in *classify.Input, method region.Method) (*Result, error) {
	start := p.now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, spanName)
	defer span.End()

	if in == nil {
		err := fmt.Errorf("%w: missing input", classify.ErrInvalidInput)
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("user", in.User), attribute.Int("points", len(in.Points)))

	cls, err := p.classifier.Classify(in)
	if err != nil {
		telemetry.RecordError(span, err)
		p.metrics.CapturesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path_type", "unknown"),
			attribute.String("status", "invalid"),
		))
		return nil, err
	}

	// Validated input is applied to completion.
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithTrace(ctx, p.logger).With("user", in.User)

	if cls.Degenerate != classify.DegenerateNone {
		p.metrics.DegenerateGeometryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(cls.Degenerate))))
	}
	if method == "" {
		method = methodFor(cls.PathType)
	}

	id, err := uuid.NewV7()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("generate capture id: %w", err)
	}

	groups := p.group(cls.Claimed, in, method)
	ids := sortedKeys(groups)
	applied, pf := p.applyAll(ctx, ids, groups)
	pathAttr := attribute.String("path_type", string(cls.PathType))
	if pf != nil {
		telemetry.RecordError(span, pf)
		p.metrics.CapturesTotal.Add(ctx, 1, metric.WithAttributes(pathAttr, attribute.String("status", "failed")))
		if len(pf.Succeeded) > 0 {
			pf.Applied = p.buildResult(id.String(), in, cls, pf.Succeeded, applied, true)
			pf.Applied.ProcessingTimeMs = p.now().Sub(start).Milliseconds()
			p.appendHistory(ctx, logger, in, pf.Applied)
		}
		logger.Warn("capture failed", "path_type", cls.PathType, "regions", len(groups),
			"succeeded", len(pf.Succeeded), "error", pf)
		return nil, pf
	}

	res := p.buildResult(id.String(), in, cls, ids, applied, false)
	res.ProcessingTimeMs = p.now().Sub(start).Milliseconds()
	p.appendHistory(ctx, logger, in, res)

	p.metrics.CapturesTotal.Add(ctx, 1, metric.WithAttributes(pathAttr, attribute.String("status", "ok")))
	p.metrics.CaptureDuration.Record(ctx, p.now().Sub(start).Seconds(), metric.WithAttributes(pathAttr))
	p.metrics.CellsClaimed.Add(ctx, int64(len(res.ClaimedCells)), metric.WithAttributes(pathAttr))
	if len(res.Conflicts) > 0 {
		p.metrics.ConflictsTotal.Add(ctx, int64(len(res.Conflicts)))
	}

	span.SetAttributes(
		pathAttr,
		attribute.Int("claimed", len(res.ClaimedCells)),
		attribute.Int("regions", len(res.RegionsAffected)),
		attribute.Int("conflicts", len(res.Conflicts)),
	)
	telemetry.SetSpanOK(span)
	logger.Debug("capture applied",
		"capture_id", res.ID,
		"path_type", res.PathType,
		"claimed", len(res.ClaimedCells),
		"conflicts", len(res.Conflicts),
		"regions", len(res.RegionsAffected),
	)
	return res, nil
}

func methodFor(pt classify.PathType) region.Method {
	switch pt {
	case classify.ClosedLoop:
		return region.MethodLoop
	case classify.OpenPath:
		return region.MethodLine
	default:
		return region.MethodClick
	}
}

// group partitions claimed cells by region, keeping claim order.
func (p *Processor) group(cells []grid.Cell, in *classify.Input, method region.Method) map[grid.Cell][]region.Claim {
	groups := make(map[grid.Cell][]region.Claim)
	for _, c := range cells {
		id := p.index.RegionOf(c)
		groups[id] = append(groups[id], region.Claim{
			Cell:   c,
			Owner:  in.User,
			Color:  in.Color,
			Method: method,
		})
	}
	return groups
}

// buildResult assembles the result of the regions in written, which is
// sorted. When partial is set, claimed cells outside written are left out so
// the result describes only what changed hands.
func (p *Processor) buildResult(id string, in *classify.Input, cls *classify.Classification, written []grid.Cell, applied []*region.ApplyResult, partial bool) *Result {
	claimed, boundary := cls.Claimed, cls.BoundaryCount
	if partial {
		claimed, boundary = make([]grid.Cell, 0, len(cls.Claimed)), 0
		for i, c := range cls.Claimed {
			if _, ok := slices.BinarySearch(written, p.index.RegionOf(c)); !ok {
				continue
			}
			claimed = append(claimed, c)
			if i < cls.BoundaryCount {
				boundary++
			}
		}
	}

	res := &Result{
		ID:              id,
		User:            in.User,
		Color:           in.Color,
		PathType:        cls.PathType,
		CellPath:        cls.CellPath,
		ClaimedCells:    claimed,
		BoundaryCount:   boundary,
		InteriorCount:   len(claimed) - boundary,
		RegionsAffected: written,
		Conflicts:       make(map[grid.Cell]string),
		Losses:          make(map[string]int),
		Degenerate:      cls.Degenerate,
	}
	var capturedAt time.Time
	for _, ar := range applied {
		if ar == nil {
			continue
		}
		for cell, prev := range ar.PreviousOwners {
			res.Conflicts[cell] = prev
			res.Losses[prev]++
		}
		res.Acquired += ar.Acquired[in.User]
		if ar.Region != nil && ar.Region.Metadata.LastUpdate.After(capturedAt) {
			capturedAt = ar.Region.Metadata.LastUpdate
		}
	}
	if capturedAt.IsZero() {
		capturedAt = p.now().UTC()
	}
	res.CapturedAt = capturedAt
	return res
}

// appendHistory records res. A failure is logged and counted, never
// returned: the regions are already written.
func (p *Processor) appendHistory(ctx context.Context, logger *slog.Logger, in *classify.Input, res *Result) {
	if p.history == nil {
		return
	}
	if err := p.history.Append(ctx, res.Record(in)); err != nil {
		p.metrics.SideEffectFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "history")))
		logger.Error("history append failed", "capture_id", res.ID, "error", err)
	}
}

// applyAll writes every region group in ids order, at most RegionWorkers at
// a time. All groups are attempted even when some fail. The returned slice
// holds the results of the regions that were written, in ids order.
func (p *Processor) applyAll(ctx context.Context, ids []grid.Cell, groups map[grid.Cell][]region.Claim) ([]*region.ApplyResult, *PartialFailureError) {
	results := make([]*region.ApplyResult, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(p.cfg.RegionWorkers)
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = p.applyRegion(ctx, id, groups[id])
			return nil
		})
	}
	_ = g.Wait()

	var pf PartialFailureError
	var failures []error
	written := make([]*region.ApplyResult, 0, len(ids))
	for i, id := range ids {
		if errs[i] != nil {
			pf.Failed = append(pf.Failed, id)
			failures = append(failures, fmt.Errorf("region %s: %w", id, errs[i]))
		} else {
			pf.Succeeded = append(pf.Succeeded, id)
			written = append(written, results[i])
		}
	}
	if len(failures) > 0 {
		pf.Err = errors.Join(failures...)
		return written, &pf
	}
	return written, nil
}

// applyRegion applies one group, retrying storage conflicts with a linear
// backoff. Other errors are returned at once.
func (p *Processor) applyRegion(ctx context.Context, id grid.Cell, claims []region.Claim) (*region.ApplyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "capture.applyRegion",
		trace.WithAttributes(attribute.String("region", id.String()), attribute.Int("claims", len(claims))))
	defer span.End()

	for attempt := 0; ; attempt++ {
		res, err := p.regions.ApplyClaims(ctx, id, claims)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return res, nil
		}
		if !errors.Is(err, region.ErrStorageConflict) || attempt >= p.cfg.ConflictRetries {
			telemetry.RecordError(span, err)
			return nil, err
		}
		p.metrics.RegionRetriesTotal.Add(ctx, 1)
		time.Sleep(time.Duration(attempt+1) * p.cfg.RetryBackoff)
	}
}

func sortedKeys[V any](m map[grid.Cell]V) []grid.Cell {
	keys := slices.Collect(maps.Keys(m))
	grid.SortCells(keys)
	return keys
}
