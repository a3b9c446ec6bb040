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
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/territory/pkg/logging"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/notify"
	"github.com/AleutianAI/territory/services/territory/stats"
)

// Handlers contains the HTTP handlers for the territory API.
type Handlers struct {
	svc     *Service
	limiter *RateLimiter
	hub     *notify.Hub
	logger  *slog.Logger
}

// NewHandlers creates handlers for svc. limiter nil admits every request;
// hub nil disables the websocket endpoint.
func NewHandlers(svc *Service, limiter *RateLimiter, hub *notify.Hub, logger *slog.Logger) *Handlers {
	if limiter == nil {
		limiter = NewRateLimiter(false, 0, 0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, limiter: limiter, hub: hub, logger: logger}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return logging.WithTrace(c.Request.Context(), h.logger).With(
		"request_id", getOrCreateRequestID(c),
		"handler", handler,
	)
}

// fail writes the mapped error response. Server-side failures are logged at
// error level, client errors at debug.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "code", code, "error", err)
	} else {
		logger.Debug("request rejected", "status", status, "code", code, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Debug("invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: CodeInvalidRequest})
}

// HandleSubmitPath handles POST /v1/territory/paths.
//
// Request: classify.Input. Response: 200 capture.Result.
func (h *Handlers) HandleSubmitPath(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSubmitPath")

	var req classify.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	if req.User != "" && !h.limiter.Allow(req.User) {
		fail(c, logger, fmt.Errorf("%w: user %s", ErrRateLimited, req.User))
		return
	}

	res, err := h.svc.SubmitPath(c.Request.Context(), &req)
	if err != nil {
		fail(c, logger, err)
		return
	}
	logger.Info("path captured",
		"capture_id", res.ID,
		"user", res.User,
		"path_type", res.PathType,
		"claimed", len(res.ClaimedCells),
		"conflicts", len(res.Conflicts),
		"processing_time_ms", res.ProcessingTimeMs,
	)
	c.JSON(http.StatusOK, res)
}

// HandleSubmitCapture handles POST /v1/territory/captures.
func (h *Handlers) HandleSubmitCapture(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSubmitCapture")

	var req SingleCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	if !h.limiter.Allow(req.User) {
		fail(c, logger, fmt.Errorf("%w: user %s", ErrRateLimited, req.User))
		return
	}

	res, err := h.svc.SubmitSingleCapture(c.Request.Context(), req.User, req.Color, *req.Lat, *req.Lng, req.Method)
	if err != nil {
		fail(c, logger, err)
		return
	}
	logger.Info("cell captured", "capture_id", res.ID, "user", res.User, "conflicts", len(res.Conflicts))
	c.JSON(http.StatusOK, res)
}

// HandleViewport handles GET /v1/territory/viewport.
//
// Query Parameters:
//
//	south, west, north, east: Box edges in degrees (required)
//	resolution: Rendering resolution (optional, default the cell resolution)
func (h *Handlers) HandleViewport(c *gin.Context) {
	logger := h.requestLogger(c, "HandleViewport")

	var bbox grid.BBox
	edges := []struct {
		name string
		dst  *float64
	}{
		{"south", &bbox.South}, {"west", &bbox.West}, {"north", &bbox.North}, {"east", &bbox.East},
	}
	for _, e := range edges {
		v, err := floatQuery(c, e.name)
		if err != nil {
			fail(c, logger, err)
			return
		}
		*e.dst = v
	}
	resolution, err := intQuery(c, "resolution", ViewportCellResolution)
	if err != nil {
		fail(c, logger, err)
		return
	}

	res, err := h.svc.Viewport(c.Request.Context(), bbox, resolution)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleUserStats handles GET /v1/territory/users/:id/stats.
func (h *Handlers) HandleUserStats(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUserStats")

	st, err := h.svc.UserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleUserRegions handles GET /v1/territory/users/:id/regions.
func (h *Handlers) HandleUserRegions(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUserRegions")

	user := c.Param("id")
	regions, err := h.svc.UserRegions(c.Request.Context(), user)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, RegionsResponse{User: user, Regions: regions})
}

// HandleUserHistory handles GET /v1/territory/users/:id/history.
//
// Query Parameters:
//
//	since, until: RFC 3339 window, since inclusive, until exclusive (optional)
//	limit: Maximum records (optional, default 50, max 500)
func (h *Handlers) HandleUserHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUserHistory")

	q, err := historyQuery(c)
	if err != nil {
		fail(c, logger, err)
		return
	}
	recs, err := h.svc.UserHistory(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Count: len(recs), Records: recs})
}

// HandleHistory handles GET /v1/territory/history.
func (h *Handlers) HandleHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHistory")

	q, err := historyQuery(c)
	if err != nil {
		fail(c, logger, err)
		return
	}
	recs, err := h.svc.History(c.Request.Context(), q)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Count: len(recs), Records: recs})
}

// HandleHistoryRecord handles GET /v1/territory/history/:id.
func (h *Handlers) HandleHistoryRecord(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHistoryRecord")

	rec, err := h.svc.HistoryRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleLeaderboard handles GET /v1/territory/leaderboard.
//
// Query Parameters:
//
//	limit: Page size (optional, default 10, max 100)
//	offset: Entries to skip (optional)
func (h *Handlers) HandleLeaderboard(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLeaderboard")

	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		fail(c, logger, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		fail(c, logger, err)
		return
	}

	users, err := h.svc.Leaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, logger, err)
		return
	}
	if limit == 0 {
		limit = stats.DefaultLeaderboardLimit
	}
	c.JSON(http.StatusOK, LeaderboardResponse{
		Limit:   limit,
		Offset:  offset,
		Entries: Rank(users, offset),
	})
}

// Rank turns a leaderboard page into ranked entries starting at offset+1.
func Rank(users []*stats.UserStats, offset int) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(users))
	for i, st := range users {
		out[i] = LeaderboardEntry{
			Rank:          offset + i + 1,
			UserID:        st.UserID,
			TotalCells:    st.TotalCells,
			TotalRegions:  st.TotalRegions,
			TotalCaptures: st.TotalCaptures,
		}
	}
	return out
}

// HandleWebsocket handles GET /v1/territory/ws.
func (h *Handlers) HandleWebsocket(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "realtime updates are disabled", Code: CodeNotFound})
		return
	}
	h.hub.ServeWS(c.Writer, c.Request)
}

// HandleHealth handles GET /v1/territory/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleReady handles GET /v1/territory/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	checks, err := h.svc.Ready(c.Request.Context())
	if err != nil {
		h.requestLogger(c, "HandleReady").Warn("not ready", "error", err)
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false, Checks: checks})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Ready: true, Checks: checks})
}

func floatQuery(c *gin.Context, name string) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidQuery, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidQuery, name)
	}
	return v, nil
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidQuery, name)
	}
	return v, nil
}

func timeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 time", ErrInvalidQuery, name)
	}
	return t, nil
}

func historyQuery(c *gin.Context) (history.Query, error) {
	var q history.Query
	var err error
	if q.Since, err = timeQuery(c, "since"); err != nil {
		return q, err
	}
	if q.Until, err = timeQuery(c, "until"); err != nil {
		return q, err
	}
	if q.Limit, err = intQuery(c, "limit", 0); err != nil {
		return q, err
	}
	if q.Limit < 0 {
		return q, fmt.Errorf("%w: limit must not be negative", ErrInvalidQuery)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Until.After(q.Since) {
		return q, fmt.Errorf("%w: until must be after since", ErrInvalidQuery)
	}
	return q, nil
}
