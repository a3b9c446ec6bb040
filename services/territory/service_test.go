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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/notify"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) CaptureApplied(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type testEnv struct {
	svc      *Service
	regions  *region.MemoryStore
	history  *history.MemoryStore
	notified *recorder
}

func newTestEnv(t *testing.T, statsStore stats.Store) *testEnv {
	t.Helper()
	return newTestEnvWrapped(t, statsStore, nil)
}

// newTestEnvWrapped lets wrap intercept the processor's region writes.
func newTestEnvWrapped(t *testing.T, statsStore stats.Store, wrap func(region.Store) region.Store) *testEnv {
	t.Helper()
	ix := grid.DefaultIndex()
	cls := classify.New(ix, classify.Config{}, nil)
	regions := region.NewMemoryStore()
	hist := history.NewMemoryStore()
	if statsStore == nil {
		statsStore = stats.NewMemoryStore()
	}
	rec := &recorder{}
	var writes region.Store = regions
	if wrap != nil {
		writes = wrap(regions)
	}

	svc, err := NewService(Deps{
		Index:      ix,
		Classifier: cls,
		Processor: capture.NewProcessor(capture.Deps{
			Index:      ix,
			Classifier: cls,
			Regions:    writes,
			History:    hist,
		}, capture.Config{}),
		Regions:  regions,
		Ledger:   stats.NewLedger(statsStore, nil),
		History:  hist,
		Notifier: rec,
		Checks: map[string]Checker{
			"always": func(context.Context) error { return nil },
		},
	})
	require.NoError(t, err)
	return &testEnv{svc: svc, regions: regions, history: hist, notified: rec}
}

func squareLoop(user string) *classify.Input {
	s := grid.EdgeLength(grid.DefaultResolution)
	return &classify.Input{
		User:  user,
		Color: "#ff0000",
		Points: []classify.Point{
			{Lat: s, Lng: s}, {Lat: s, Lng: -s}, {Lat: -s, Lng: -s}, {Lat: -s, Lng: s}, {Lat: s, Lng: s},
		},
		Options: classify.Options{AutoClose: true},
	}
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestService_SubmitPathRecordsStatsAndNotifies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.svc.SubmitPath(ctx, squareLoop("x"))
	require.NoError(t, err)

	st, err := env.svc.UserStats(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalCells)
	assert.Equal(t, 1, st.TotalCaptures)

	ev := env.notified.last()
	assert.Same(t, res, ev.Capture)
	require.NotNil(t, ev.Stats)
	assert.Equal(t, 5, ev.Stats.TotalCells)
	assert.False(t, ev.At.IsZero())
}

func TestService_TakeoverDecrementsLoser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.SubmitPath(ctx, squareLoop("x"))
	require.NoError(t, err)
	res, err := env.svc.SubmitPath(ctx, squareLoop("y"))
	require.NoError(t, err)
	assert.Len(t, res.Conflicts, 5)

	x, err := env.svc.UserStats(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, x.TotalCells)

	board, err := env.svc.Leaderboard(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "y", board[0].UserID)

	own, err := env.svc.UserRegions(ctx, "x")
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Zero(t, own[0].Owned)
	assert.False(t, own[0].Majority)
}

func TestService_InvalidInputNotifiesNobody(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.SubmitPath(context.Background(), &classify.Input{User: "x"})
	assert.ErrorIs(t, err, classify.ErrInvalidInput)
	assert.Empty(t, env.notified.events)

	_, err = env.svc.UserStats(context.Background(), "x")
	assert.ErrorIs(t, err, stats.ErrUserNotFound)
}

// brokenStats fails every update.
type brokenStats struct{ stats.Store }

func (brokenStats) Update(context.Context, string, stats.UpdateFunc) error {
	return stats.ErrStorageUnavailable
}

func TestService_StatsFailureDoesNotFailCapture(t *testing.T) {
	env := newTestEnv(t, brokenStats{stats.NewMemoryStore()})

	res, err := env.svc.SubmitSingleCapture(context.Background(), "x", "", 5, 5, "")
	require.NoError(t, err)
	assert.Len(t, res.ClaimedCells, 1)

	ev := env.notified.last()
	assert.Nil(t, ev.Stats)
	assert.Same(t, res, ev.Capture)
}

func TestService_Viewport(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	box := grid.BBox{South: -0.01, West: -0.01, North: 0.01, East: 0.01}

	empty, err := env.svc.Viewport(ctx, box, ViewportCellResolution)
	require.NoError(t, err)
	assert.NotNil(t, empty.Regions)
	assert.Zero(t, empty.CellCount)

	_, err = env.svc.SubmitPath(ctx, squareLoop("x"))
	require.NoError(t, err)

	raw, err := env.svc.Viewport(ctx, box, ViewportCellResolution)
	require.NoError(t, err)
	assert.Equal(t, grid.DefaultResolution, raw.Resolution)
	assert.Equal(t, 5, raw.CellCount)

	coarse, err := env.svc.Viewport(ctx, box, grid.DefaultResolution-2)
	require.NoError(t, err)
	assert.Positive(t, coarse.CellCount)
	assert.LessOrEqual(t, coarse.CellCount, 5)
	for _, cells := range coarse.Regions {
		for cell, owner := range cells {
			assert.Equal(t, grid.DefaultResolution-2, cell.Resolution())
			assert.Equal(t, "x", owner.Owner)
		}
	}

	top, err := env.svc.Viewport(ctx, box, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, top.Resolution)
	assert.Equal(t, 1, top.CellCount)
	for _, cells := range top.Regions {
		for cell := range cells {
			assert.Equal(t, 0, cell.Resolution())
		}
	}

	_, err = env.svc.Viewport(ctx, box, grid.DefaultResolution+1)
	assert.ErrorIs(t, err, grid.ErrInvalidResolution)
	_, err = env.svc.Viewport(ctx, box, -2)
	assert.ErrorIs(t, err, grid.ErrInvalidResolution)
	_, err = env.svc.Viewport(ctx, grid.BBox{South: 1, North: 0}, ViewportCellResolution)
	assert.ErrorIs(t, err, grid.ErrInvalidBBox)
}

func TestService_History(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.SubmitSingleCapture(ctx, "x", "", 1, 1, "")
	require.NoError(t, err)
	second, err := env.svc.SubmitSingleCapture(ctx, "x", "", 2, 2, "")
	require.NoError(t, err)
	_, err = env.svc.SubmitSingleCapture(ctx, "y", "", 3, 3, "")
	require.NoError(t, err)

	recs, err := env.svc.UserHistory(ctx, "x", history.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)

	all, err := env.svc.History(ctx, history.Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rec, err := env.svc.HistoryRecord(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.User)

	future, err := env.svc.History(ctx, history.Query{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestService_SetMaxPoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.svc.SetMaxPoints(2)

	_, err := env.svc.SubmitPath(context.Background(), squareLoop("x"))
	assert.ErrorIs(t, err, classify.ErrInvalidInput)
}

func TestService_Ready(t *testing.T) {
	env := newTestEnv(t, nil)
	checks, err := env.svc.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"always": "ok"}, checks)

	env.svc.checks["broken"] = func(context.Context) error { return errors.New("down") }
	checks, err = env.svc.Ready(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "down", checks["broken"])
}

// failOnceStore makes the first write to one region unavailable.
type failOnceStore struct {
	region.Store
	target grid.Cell
	failed atomic.Bool
}

func (s *failOnceStore) ApplyClaims(ctx context.Context, id grid.Cell, claims []region.Claim) (*region.ApplyResult, error) {
	if id == s.target && s.failed.CompareAndSwap(false, true) {
		return nil, region.ErrStorageUnavailable
	}
	return s.Store.ApplyClaims(ctx, id, claims)
}

func TestService_PartialFailureRetryKeepsStatsConsistent(t *testing.T) {
	ctx := context.Background()
	path := func(user string) *classify.Input {
		return &classify.Input{User: user, Points: []classify.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.12}}}
	}

	var flaky *failOnceStore
	env := newTestEnvWrapped(t, nil, func(s region.Store) region.Store {
		flaky = &failOnceStore{Store: s}
		return flaky
	})

	first, err := env.svc.SubmitPath(ctx, path("x"))
	require.NoError(t, err)
	require.Greater(t, len(first.RegionsAffected), 1)
	total := len(first.ClaimedCells)

	flaky.target = first.RegionsAffected[len(first.RegionsAffected)-1]
	_, err = env.svc.SubmitPath(ctx, path("y"))
	require.ErrorIs(t, err, capture.ErrCaptureFailed)

	mid, err := env.svc.UserStats(ctx, "y")
	require.NoError(t, err, "written regions are booked despite the failure")
	assert.Positive(t, mid.TotalCells)
	assert.Less(t, mid.TotalCells, total)

	retry, err := env.svc.SubmitPath(ctx, path("y"))
	require.NoError(t, err)
	assert.Len(t, retry.ClaimedCells, total)

	x, err := env.svc.UserStats(ctx, "x")
	require.NoError(t, err)
	y, err := env.svc.UserStats(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, 0, x.TotalCells)
	assert.Equal(t, total, y.TotalCells)

	recs, err := env.svc.UserHistory(ctx, "y", history.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 2, "the written part of the failed capture is in history")
}
