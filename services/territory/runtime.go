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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/config"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/notify"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
	storage "github.com/AleutianAI/territory/services/territory/storage/badger"
	"github.com/AleutianAI/territory/services/territory/telemetry"
)

// Runtime is a fully wired engine built from configuration.
//
// Thread Safety: Safe for concurrent use. Close must be called once.
type Runtime struct {
	Config  *config.Config
	Service *Service
	Limiter *RateLimiter
	Hub     *notify.Hub
	DB      *storage.DB
	History history.Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	influx *notify.InfluxSink
}

// Open builds every component described by cfg.
//
// Description:
//
//	Opens the Badger database (regions and user stats), the SQLite history
//	store, the websocket hub and, when configured, the InfluxDB sink, and
//	wires them into a Service. Metrics use the global OpenTelemetry meter
//	provider, so telemetry.Init should run first.
//
// Outputs:
//
//	*Runtime - Caller must Close it.
//	error - Non-nil if any store cannot be opened.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index, err := grid.NewIndex(cfg.Grid.Resolution, cfg.Grid.RegionResolution)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider().Meter("territory"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	db, err := OpenStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	hist, err := history.OpenSQLite(cfg.History.Path)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	rt := &Runtime{
		Config:  cfg,
		DB:      db,
		History: hist,
		Metrics: metrics,
		Logger:  logger,
		Hub:     notify.NewHub(cfg.Notify.Websocket, logger),
		Limiter: NewRateLimiter(cfg.RateLimit.Enabled, cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
	}
	notifiers := notify.Multi{rt.Hub}
	if cfg.Notify.Influx != nil {
		rt.influx = notify.NewInfluxSink(*cfg.Notify.Influx, logger)
		notifiers = append(notifiers, rt.influx)
	}

	classifier := classify.New(index, classify.Config{
		MaxPoints:       cfg.Capture.MaxPoints,
		MinLoopSize:     cfg.Capture.MinLoopSize,
		MaxClaimedCells: cfg.Capture.MaxClaimedCells,
	}, logger)
	regions := region.NewBadgerStore(db)
	processor := capture.NewProcessor(capture.Deps{
		Index:      index,
		Classifier: classifier,
		Regions:    regions,
		History:    hist,
		Metrics:    metrics,
		Logger:     logger,
	}, capture.Config{
		RegionWorkers:   cfg.Capture.RegionWorkers,
		ConflictRetries: cfg.Capture.ConflictRetries,
		RetryBackoff:    cfg.Capture.RetryBackoff,
	})

	var enumerator region.Enumerator = region.NewLatticeEnumerator(index, cfg.Viewport.LatticeSamples)
	if cfg.Viewport.Enumerator == "covering" {
		enumerator = region.NewCoveringEnumerator(index, cfg.Viewport.CoveringLimit)
	}

	checks := map[string]Checker{
		"badger": func(context.Context) error {
			if db.IsClosed() {
				return storage.ErrUnavailable
			}
			return nil
		},
		"history": hist.Ping,
	}
	if rt.influx != nil {
		sink := rt.influx
		checks["influx"] = func(ctx context.Context) error {
			ok, err := sink.Ping(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("influx ping failed")
			}
			return nil
		}
	}

	svc, err := NewService(Deps{
		Index:      index,
		Classifier: classifier,
		Processor:  processor,
		Regions:    regions,
		Enumerator: enumerator,
		Ledger:     stats.NewLedger(stats.NewBadgerStore(db), logger),
		History:    hist,
		Notifier:   notifiers,
		Metrics:    metrics,
		Logger:     logger,
		Checks:     checks,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Service = svc
	logger.Info("territory engine ready",
		"resolution", cfg.Grid.Resolution,
		"region_resolution", cfg.Grid.RegionResolution,
		"storage", cfg.Storage.Path,
		"in_memory", cfg.Storage.InMemory,
		"history", cfg.History.Path,
		"enumerator", cfg.Viewport.Enumerator,
		"influx", rt.influx != nil,
	)
	return rt, nil
}

// OpenStorage opens the Badger database described by cfg.Storage. Only one
// process may hold a file-backed database at a time.
func OpenStorage(cfg *config.Config, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.Open(storage.Config{
		Path:            cfg.Storage.Path,
		InMemory:        cfg.Storage.InMemory,
		SyncWrites:      cfg.Storage.SyncWrites,
		Logger:          logger,
		GCInterval:      cfg.Storage.GCInterval,
		GCDiscardRatio:  cfg.Storage.GCDiscardRatio,
		ConflictRetries: cfg.Storage.ConflictRetries,
		RetryBackoff:    cfg.Storage.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return db, nil
}

// Router builds the HTTP handler: tracing, request metrics, recovery, the
// /v1/territory API and /metrics.
func (rt *Runtime) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(rt.Config.Telemetry.ServiceName))
	router.Use(rt.Metrics.GinMiddleware())

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(rt.Service, rt.Limiter, rt.Hub, rt.Logger))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: CodeNotFound})
	})
	return router
}

// ApplyConfig applies the hot-reloadable parts of cfg: path size and rate
// limits. Everything else needs a restart.
func (rt *Runtime) ApplyConfig(cfg *config.Config) {
	rt.Service.SetMaxPoints(cfg.Capture.MaxPoints)
	rt.Limiter.SetLimit(cfg.RateLimit.Enabled, cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	rt.Logger.Info("limits updated",
		"max_points", cfg.Capture.MaxPoints,
		"ratelimit_enabled", cfg.RateLimit.Enabled,
		"per_second", cfg.RateLimit.PerSecond,
		"burst", cfg.RateLimit.Burst,
	)
}

// Close disconnects realtime clients and closes the stores.
func (rt *Runtime) Close() error {
	if rt.Hub != nil {
		rt.Hub.Close()
	}
	if rt.influx != nil {
		rt.influx.Close()
	}
	var errs []error
	if rt.History != nil {
		errs = append(errs, rt.History.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}
