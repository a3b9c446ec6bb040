// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package territory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/territory/pkg/logging"
	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/notify"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
	"github.com/AleutianAI/territory/services/territory/telemetry"
)

const tracerName = "territory.service"

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Deps are the components a Service orchestrates.
type Deps struct {
	Index      *grid.Index
	Classifier *classify.Classifier
	Processor  *capture.Processor
	Regions    region.Store
	Enumerator region.Enumerator
	Ledger     *stats.Ledger
	History    history.Store

	// Notifier nil uses notify.Nop.
	Notifier notify.Notifier

	// Metrics nil records nothing.
	Metrics *telemetry.Metrics

	// Logger nil uses slog.Default().
	Logger *slog.Logger

	// Checks are run by Ready, keyed by name.
	Checks map[string]Checker
}

// Service is the engine's public API.
//
// Description:
//
//	A submission is classified and applied by the capture processor, then
//	folded into the stats ledger and handed to the notifier. Ledger and
//	notification failures are logged and counted; the applied capture is
//	still returned. Reads go straight to the stores.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	index      *grid.Index
	classifier *classify.Classifier
	processor  *capture.Processor
	regions    region.Store
	viewport   *region.Viewport
	ledger     *stats.Ledger
	history    history.Store
	notifier   notify.Notifier
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	checks     map[string]Checker
	now        func() time.Time
}

// NewService validates deps and creates a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Index == nil:
		return nil, errors.New("index is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Processor == nil:
		return nil, errors.New("processor is required")
	case deps.Regions == nil:
		return nil, errors.New("region store is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	}
	enumerator := deps.Enumerator
	if enumerator == nil {
		enumerator = region.NewLatticeEnumerator(deps.Index, 0)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:      deps.Index,
		classifier: deps.Classifier,
		processor:  deps.Processor,
		regions:    deps.Regions,
		viewport:   region.NewViewport(deps.Regions, enumerator),
		ledger:     deps.Ledger,
		history:    deps.History,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.With("component", "territory.service"),
		checks:     deps.Checks,
		now:        time.Now,
	}, nil
}

// SubmitPath classifies and applies a GPS path.
//
// Outputs:
//
//	*capture.Result - The applied capture.
//	error - classify.ErrInvalidInput, or a capture.PartialFailureError
//	        matching capture.ErrCaptureFailed.
func (s *Service) SubmitPath(ctx context.Context, in *classify.Input) (*capture.Result, error) {
	res, err := s.processor.SubmitPath(ctx, in)
	if err != nil {
		s.afterPartialCapture(ctx, err)
		return nil, err
	}
	s.afterCapture(ctx, res)
	return res, nil
}

// SubmitSingleCapture claims the cell at one point. An empty method records
// a click.
func (s *Service) SubmitSingleCapture(ctx context.Context, user, color string, lat, lng float64, method region.Method) (*capture.Result, error) {
	res, err := s.processor.SubmitSingleCapture(ctx, user, color, lat, lng, method)
	if err != nil {
		s.afterPartialCapture(ctx, err)
		return nil, err
	}
	s.afterCapture(ctx, res)
	return res, nil
}

// afterCapture records stats and notifies. Neither step can fail the
// capture, which is already applied.
func (s *Service) afterCapture(ctx context.Context, res *capture.Result) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithTrace(ctx, s.logger)

	st, err := s.ledger.Record(ctx, res.Outcome())
	if err != nil {
		s.metrics.SideEffectFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "stats")))
		logger.Error("stats update failed", "capture_id", res.ID, "user", res.User, "error", err)
	}
	s.notifier.CaptureApplied(ctx, notify.Event{Capture: res, Stats: st, At: s.now().UTC()})
}

// afterPartialCapture books the regions a failed capture did write, so a
// retry of the same path finds stats consistent with ownership.
func (s *Service) afterPartialCapture(ctx context.Context, err error) {
	var pf *capture.PartialFailureError
	if !errors.As(err, &pf) || pf.Applied == nil {
		return
	}
	s.afterCapture(ctx, pf.Applied)
}

// ViewportCellResolution asks Viewport for raw cells at the grid resolution.
const ViewportCellResolution = -1

// Viewport returns the owned cells of the regions the box may touch.
//
// Description:
//
//	ViewportCellResolution or the grid resolution returns raw cells. A
//	coarser resolution, down to 0, returns parent cells colored by their
//	plurality owner. A finer resolution is rejected.
//
// Outputs:
//
//	*ViewportResult - Regions is never nil.
//	error - grid.ErrInvalidBBox, grid.ErrInvalidResolution, or store errors.
func (s *Service) Viewport(ctx context.Context, bbox grid.BBox, resolution int) (*ViewportResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "territory.Viewport")
	defer span.End()

	cellRes := s.index.Resolution()
	if resolution == ViewportCellResolution {
		resolution = cellRes
	}
	if resolution < 0 || resolution > cellRes {
		err := fmt.Errorf("%w: viewport resolution %d must be between 0 and %d", grid.ErrInvalidResolution, resolution, cellRes)
		telemetry.RecordError(span, err)
		return nil, err
	}

	terr, err := s.viewport.Territories(ctx, bbox)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if resolution < cellRes {
		terr = terr.Coarsen(resolution)
	}
	out := &ViewportResult{
		BBox:       bbox,
		Resolution: resolution,
		CellCount:  terr.CellCount(),
		Regions:    terr,
	}
	span.SetAttributes(attribute.Int("regions", len(terr)), attribute.Int("cells", out.CellCount))
	telemetry.SetSpanOK(span)
	return out, nil
}

// UserStats returns a user's stats or stats.ErrUserNotFound.
func (s *Service) UserStats(ctx context.Context, user string) (*stats.UserStats, error) {
	return s.ledger.Get(ctx, user)
}

// Leaderboard returns users ranked by TotalCells.
func (s *Service) Leaderboard(ctx context.Context, limit, offset int) ([]*stats.UserStats, error) {
	return s.ledger.Leaderboard(ctx, limit, offset)
}

// UserRegions returns the user's standing in each region they are active in.
func (s *Service) UserRegions(ctx context.Context, user string) ([]stats.RegionOwnership, error) {
	return s.ledger.RegionOwnership(ctx, user, s.regions)
}

// UserHistory returns the user's captures in the window, newest first.
func (s *Service) UserHistory(ctx context.Context, user string, q history.Query) ([]*history.Record, error) {
	return s.history.ListByUser(ctx, user, q)
}

// History returns all captures in the window, newest first.
func (s *Service) History(ctx context.Context, q history.Query) ([]*history.Record, error) {
	return s.history.ListByTime(ctx, q)
}

// HistoryRecord returns one capture record.
func (s *Service) HistoryRecord(ctx context.Context, id string) (*history.Record, error) {
	return s.history.Get(ctx, id)
}

// SetMaxPoints changes the largest accepted path.
func (s *Service) SetMaxPoints(n int) {
	s.classifier.SetMaxPoints(n)
}

// Ready runs every dependency check and returns their results. The error
// joins all failures.
func (s *Service) Ready(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string, len(s.checks))
	var errs []error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		results[name] = "ok"
	}
	return results, errors.Join(errs...)
}
