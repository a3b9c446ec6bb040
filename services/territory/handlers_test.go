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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/config"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, limiter *RateLimiter) (*gin.Engine, *testEnv) {
	t.Helper()
	env := newTestEnv(t, nil)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(env.svc, limiter, nil, nil))
	return router, env
}

func do(router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandlers_HandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/territory/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandlers_HandleReady(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/territory/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[ReadyResponse](t, w).Ready)
}

func TestHandlers_SubmitPath(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/v1/territory/paths", squareLoop("x"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[capture.Result](t, w)
	assert.Equal(t, classify.ClosedLoop, res.PathType)
	assert.Len(t, res.ClaimedCells, 5)
	assert.NotEmpty(t, res.ID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(router, http.MethodGet, "/v1/territory/users/x/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[stats.UserStats](t, w).TotalCells)
}

func TestHandlers_Errors(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed body", http.MethodPost, "/v1/territory/paths", "{", http.StatusBadRequest, CodeInvalidRequest},
		{"no points", http.MethodPost, "/v1/territory/paths", map[string]any{"user": "x"}, http.StatusBadRequest, CodeInvalidInput},
		{"bad latitude", http.MethodPost, "/v1/territory/paths",
			map[string]any{"user": "x", "points": []map[string]float64{{"lat": 95, "lng": 0}}}, http.StatusBadRequest, CodeInvalidInput},
		{"capture missing lat", http.MethodPost, "/v1/territory/captures", map[string]any{"user": "x", "lng": 1}, http.StatusBadRequest, CodeInvalidRequest},
		{"capture bad method", http.MethodPost, "/v1/territory/captures",
			map[string]any{"user": "x", "lat": 1, "lng": 1, "method": "teleport"}, http.StatusBadRequest, CodeInvalidInput},
		{"unknown user stats", http.MethodGet, "/v1/territory/users/ghost/stats", nil, http.StatusNotFound, CodeNotFound},
		{"unknown user regions", http.MethodGet, "/v1/territory/users/ghost/regions", nil, http.StatusNotFound, CodeNotFound},
		{"unknown record", http.MethodGet, "/v1/territory/history/nope", nil, http.StatusNotFound, CodeNotFound},
		{"viewport missing edge", http.MethodGet, "/v1/territory/viewport?south=0&west=0&north=1", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"viewport inverted", http.MethodGet, "/v1/territory/viewport?south=1&west=0&north=0&east=1", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"viewport too fine", http.MethodGet, "/v1/territory/viewport?south=0&west=0&north=1&east=1&resolution=12", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"leaderboard limit", http.MethodGet, "/v1/territory/leaderboard?limit=1000", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"leaderboard offset", http.MethodGet, "/v1/territory/leaderboard?offset=-1", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"leaderboard not int", http.MethodGet, "/v1/territory/leaderboard?limit=ten", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"history bad since", http.MethodGet, "/v1/territory/history?since=yesterday", nil, http.StatusBadRequest, CodeInvalidQuery},
		{"history inverted window", http.MethodGet,
			"/v1/territory/history?since=2025-01-02T00:00:00Z&until=2025-01-01T00:00:00Z", nil, http.StatusBadRequest, CodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.target, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandlers_SubmitCaptureAndViewport(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/v1/territory/captures", map[string]any{"user": "alice", "color": "#00ff00", "lat": 0.0, "lng": 0.0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := url.Values{"south": {"-0.01"}, "west": {"-0.01"}, "north": {"0.01"}, "east": {"0.01"}}
	w = do(router, http.MethodGet, "/v1/territory/viewport?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	vp := decode[ViewportResult](t, w)
	assert.Equal(t, 1, vp.CellCount)
	for _, cells := range vp.Regions {
		for _, owner := range cells {
			assert.Equal(t, "alice", owner.Owner)
			assert.Equal(t, "#00ff00", owner.Color)
		}
	}
	assert.Equal(t, grid.DefaultResolution, vp.Resolution)

	q.Set("resolution", "0")
	w = do(router, http.MethodGet, "/v1/territory/viewport?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	top := decode[ViewportResult](t, w)
	assert.Equal(t, 0, top.Resolution)
	assert.Equal(t, 1, top.CellCount)
}

func TestHandlers_LeaderboardAndHistory(t *testing.T) {
	router, env := setupTestRouter(t, nil)
	ctx := context.Background()
	for i, user := range []string{"a", "b", "b", "c", "c", "c"} {
		_, err := env.svc.SubmitSingleCapture(ctx, user, "", float64(i), float64(i), "")
		require.NoError(t, err)
	}

	w := do(router, http.MethodGet, "/v1/territory/leaderboard?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[LeaderboardResponse](t, w)
	assert.Equal(t, 2, board.Limit)
	assert.Equal(t, 1, board.Offset)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, LeaderboardEntry{Rank: 2, UserID: "b", TotalCells: 2, TotalRegions: 2, TotalCaptures: 2}, board.Entries[0])
	assert.Equal(t, "a", board.Entries[1].UserID)

	w = do(router, http.MethodGet, "/v1/territory/users/c/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[HistoryResponse](t, w)
	assert.Equal(t, 2, hist.Count)
	for _, rec := range hist.Records {
		assert.Equal(t, "c", rec.User)
	}

	w = do(router, http.MethodGet, "/v1/territory/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, decode[HistoryResponse](t, w).Count)

	id := hist.Records[0].ID
	w = do(router, http.MethodGet, "/v1/territory/history/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[history.Record](t, w).ID)

	w = do(router, http.MethodGet, "/v1/territory/users/c/regions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	regions := decode[RegionsResponse](t, w)
	assert.Equal(t, "c", regions.User)
	assert.Len(t, regions.Regions, 3)
}

func TestHandlers_RateLimited(t *testing.T) {
	limiter := NewRateLimiter(true, 0.001, 1, 0)
	router, _ := setupTestRouter(t, limiter)

	body := map[string]any{"user": "x", "lat": 1.0, "lng": 1.0}
	w := do(router, http.MethodPost, "/v1/territory/captures", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/v1/territory/captures", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, w).Code)

	body["user"] = "y"
	w = do(router, http.MethodPost, "/v1/territory/captures", body)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per user")
}

func TestHandlers_WebsocketDisabled(t *testing.T) {
	router, _ := setupTestRouter(t, nil)
	w := do(router, http.MethodGet, "/v1/territory/ws", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuntime_OpenAndServe(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.History.Path = ":memory:"
	cfg.RateLimit.Enabled = false

	rt, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	router := rt.Router()

	w := do(router, http.MethodPost, "/v1/territory/paths", squareLoop("x"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/v1/territory/ready", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ready := decode[ReadyResponse](t, w)
	assert.Equal(t, "ok", ready.Checks["badger"])
	assert.Equal(t, "ok", ready.Checks["history"])

	w = do(router, http.MethodGet, "/v1/territory/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", decode[LeaderboardResponse](t, w).Entries[0].UserID)

	w = do(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg2 := *cfg
	cfg2.Capture.MaxPoints = 2
	rt.ApplyConfig(&cfg2)
	w = do(router, http.MethodPost, "/v1/territory/paths", squareLoop("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
