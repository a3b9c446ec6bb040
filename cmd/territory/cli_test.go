// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/stats"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteLeaderboard_Golden(t *testing.T) {
	resp := &territory.LeaderboardResponse{
		Limit: 10,
		Entries: []territory.LeaderboardEntry{
			{Rank: 1, UserID: "alice", TotalCells: 120, TotalRegions: 4, TotalCaptures: 9},
			{Rank: 2, UserID: "bob", TotalCells: 37, TotalRegions: 2, TotalCaptures: 3},
			{Rank: 3, UserID: "carol-long-name", TotalCells: 5, TotalRegions: 1, TotalCaptures: 1},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writeLeaderboard(&buf, resp))
	newGolden(t).Assert(t, "leaderboard", buf.Bytes())
}

func TestWriteStats_Golden(t *testing.T) {
	st := &stats.UserStats{
		UserID:         "alice",
		TotalCells:     120,
		TotalRegions:   4,
		LargestCapture: 40,
		TotalCaptures:  9,
		LastActive:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	require.NoError(t, writeStats(&buf, st))
	newGolden(t).Assert(t, "stats", buf.Bytes())
}

func TestWriteHistory_Golden(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cells := func(n int) []grid.Cell {
		out := make([]grid.Cell, n)
		for i := range out {
			out[i] = grid.CellForPoint(float64(i), 0, grid.DefaultResolution)
		}
		return out
	}
	resp := &territory.HistoryResponse{
		Count: 2,
		Records: []*history.Record{
			{
				ID: "rec-2", User: "bob", PathType: "closed_loop", ClaimedCells: cells(7),
				Conflicts:  map[grid.Cell]string{cells(1)[0]: "alice", cells(2)[1]: "alice"},
				CapturedAt: at.Add(5 * time.Minute),
			},
			{ID: "rec-1", User: "alice", PathType: "single_hex", ClaimedCells: cells(1), CapturedAt: at},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, resp))
	newGolden(t).Assert(t, "history", buf.Bytes())
}

func TestWriteEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLeaderboard(&buf, &territory.LeaderboardResponse{}))
	assert.Equal(t, "No users ranked yet.\n", buf.String())

	buf.Reset()
	require.NoError(t, writeHistory(&buf, &territory.HistoryResponse{}))
	assert.Equal(t, "No captures in range.\n", buf.String())
}

func TestRender_JSONWhenPiped(t *testing.T) {
	var buf bytes.Buffer
	called := false
	err := render(&buf, map[string]int{"a": 1}, func(io.Writer) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, called)
	assert.JSONEq(t, `{"a":1}`, buf.String())
}

func TestReadPoints(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"bare array", `[{"lat":1,"lng":2},{"lat":1.1,"lng":2}]`, 2, false},
		{"wrapped", `{"points":[{"lat":1,"lng":2}]}`, 1, false},
		{"garbage", `nope`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := readPoints(strings.NewReader(tt.input), nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, points, tt.want)
		})
	}

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "walk.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"lat":0,"lng":0}]`), 0o600))
		points, err := readPoints(strings.NewReader(""), []string{path})
		require.NoError(t, err)
		assert.Len(t, points, 1)
	})
}

func TestLookupCell(t *testing.T) {
	info, err := lookupCell(0.001, 0.001, grid.DefaultResolution, grid.DefaultRegionResolution)
	require.NoError(t, err)

	ix := grid.DefaultIndex()
	assert.Equal(t, ix.CellForPoint(0.001, 0.001), info.Cell)
	assert.Equal(t, ix.RegionOf(info.Cell), info.Region)
	assert.Len(t, info.Boundary, 6)

	_, err = lookupCell(91, 0, grid.DefaultResolution, grid.DefaultRegionResolution)
	assert.Error(t, err)

	_, err = lookupCell(0, 0, 3, 5)
	assert.Error(t, err, "region resolution must be coarser")
}

func TestAPIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/territory/leaderboard":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode(territory.LeaderboardResponse{
				Limit:   5,
				Entries: []territory.LeaderboardEntry{{Rank: 1, UserID: "alice", TotalCells: 3}},
			})
		case "/v1/territory/users/ghost/stats":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(territory.ErrorResponse{Error: "user not found", Code: territory.CodeNotFound})
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	t.Cleanup(srv.Close)

	client := newAPIClient(srv.URL + "/")
	ctx := context.Background()

	var board territory.LeaderboardResponse
	require.NoError(t, client.do(ctx, http.MethodGet, "/leaderboard", map[string][]string{"limit": {"5"}}, nil, &board))
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].UserID)

	err := client.do(ctx, http.MethodGet, "/users/ghost/stats", nil, nil, &stats.UserStats{})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, territory.CodeNotFound, apiErr.Code)

	err = client.do(ctx, http.MethodGet, "/elsewhere", nil, nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestLeaderboardCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(territory.LeaderboardResponse{
			Limit:   10,
			Entries: []territory.LeaderboardEntry{{Rank: 1, UserID: "alice", TotalCells: 3}},
		})
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"leaderboard", "--server", srv.URL})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	var got territory.LeaderboardResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "alice", got.Entries[0].UserID)
}
