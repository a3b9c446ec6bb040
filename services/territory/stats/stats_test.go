// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/region"
	storage "github.com/AleutianAI/territory/services/territory/storage/badger"
)

var (
	t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	ix = grid.DefaultIndex()
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	cfg := storage.InMemoryConfig()
	cfg.ConflictRetries = 1000
	db, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(db),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "nobody")
			assert.ErrorIs(t, err, ErrUserNotFound)

			require.NoError(t, s.Update(ctx, "skip", func(*UserStats, bool) (bool, error) { return false, nil }))
			_, err = s.Get(ctx, "skip")
			assert.ErrorIs(t, err, ErrUserNotFound)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.Update(ctx, "alice", func(st *UserStats, _ bool) (bool, error) {
						st.TotalCaptures++
						return true, nil
					}))
				}()
			}
			wg.Wait()

			st, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "alice", st.UserID)
			assert.Equal(t, 20, st.TotalCaptures)
			assert.NotNil(t, st.ActiveRegions)

			all, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestLedger_Record(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := NewLedger(s, nil)
			r1 := ix.RegionForPoint(0, 0)
			r2 := ix.RegionForPoint(1, 1)

			st, err := l.Record(ctx, Outcome{User: "a", Claimed: 5, Acquired: 5, Regions: []grid.Cell{r1}, At: t0})
			require.NoError(t, err)
			assert.Equal(t, 5, st.TotalCells)
			assert.Equal(t, 1, st.TotalCaptures)
			assert.Equal(t, 5, st.LargestCapture)
			assert.Equal(t, 1, st.TotalRegions)
			assert.Equal(t, t0, st.LastActive)

			// b takes 2 of a's cells and 1 free cell across two regions.
			st, err = l.Record(ctx, Outcome{
				User: "b", Claimed: 3, Acquired: 3,
				Losses:  map[string]int{"a": 2, "ghost": 4},
				Regions: []grid.Cell{r1, r2},
				At:      t0.Add(time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, 3, st.TotalCells)
			assert.Equal(t, 2, st.TotalRegions)
			assert.Equal(t, []grid.Cell{r1, r2}, st.ActiveRegions)

			a, err := l.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 3, a.TotalCells)
			assert.Equal(t, 1, a.TotalCaptures)

			_, err = l.Get(ctx, "ghost")
			assert.ErrorIs(t, err, ErrUserNotFound)

			// Re-claiming owned cells adds a capture but no cells.
			st, err = l.Record(ctx, Outcome{User: "b", Claimed: 3, Acquired: 0, Regions: []grid.Cell{r1}, At: t0.Add(2 * time.Minute)})
			require.NoError(t, err)
			assert.Equal(t, 3, st.TotalCells)
			assert.Equal(t, 2, st.TotalCaptures)
			assert.Equal(t, 2, st.TotalRegions)

			// Losses floor at zero.
			_, err = l.Record(ctx, Outcome{User: "c", Claimed: 9, Acquired: 9, Losses: map[string]int{"a": 50}, At: t0})
			require.NoError(t, err)
			a, err = l.Get(ctx, "a")
			require.NoError(t, err)
			assert.Zero(t, a.TotalCells)
		})
	}
}

func TestLedger_RecordRequiresUser(t *testing.T) {
	_, err := NewLedger(NewMemoryStore(), nil).Record(context.Background(), Outcome{})
	assert.Error(t, err)
}

func TestLedger_Leaderboard(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(NewMemoryStore(), nil)
	cells := map[string]int{"dave": 4, "amy": 9, "bob": 4, "cat": 1}
	for user, n := range cells {
		_, err := l.Record(ctx, Outcome{User: user, Claimed: n, Acquired: n, At: t0})
		require.NoError(t, err)
	}

	users := func(list []*UserStats) []string {
		out := make([]string, len(list))
		for i, st := range list {
			out[i] = st.UserID
		}
		return out
	}

	got, err := l.Leaderboard(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "bob", "dave", "cat"}, users(got))

	got, err = l.Leaderboard(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "dave"}, users(got))

	got, err = l.Leaderboard(ctx, 10, 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	for _, tt := range []struct{ limit, offset int }{{-1, 0}, {101, 0}, {5, -1}} {
		t.Run(fmt.Sprintf("limit=%d offset=%d", tt.limit, tt.offset), func(t *testing.T) {
			_, err := l.Leaderboard(ctx, tt.limit, tt.offset)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}

	// Results are copies.
	got, err = l.Leaderboard(ctx, 1, 0)
	require.NoError(t, err)
	got[0].TotalCells = -1
	again, err := l.Leaderboard(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 9, again[0].TotalCells)
}

// gatedStore holds List until released and fails it if the caller's context
// ended meanwhile.
type gatedStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) List(ctx context.Context) ([]*UserStats, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Store.List(ctx)
}

func TestLedger_LeaderboardCancelledCallerDoesNotFailOthers(t *testing.T) {
	mem := NewMemoryStore()
	_, err := NewLedger(mem, nil).Record(context.Background(), Outcome{User: "amy", Claimed: 3, Acquired: 3, At: t0})
	require.NoError(t, err)

	store := &gatedStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	l := NewLedger(store, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := l.Leaderboard(cancelled, 5, 0)
		first <- err
	}()
	<-store.entered

	type result struct {
		list []*UserStats
		err  error
	}
	second := make(chan result, 1)
	go func() {
		list, err := l.Leaderboard(context.Background(), 5, 0)
		second <- result{list, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the shared read")
	}

	close(store.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		require.Len(t, got.list, 1)
		assert.Equal(t, "amy", got.list[0].UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestLedger_RegionOwnership(t *testing.T) {
	ctx := context.Background()
	regions := region.NewMemoryStore()
	l := NewLedger(NewMemoryStore(), nil)

	c := ix.CellForPoint(5, 5)
	id := ix.RegionOf(c)
	nb := grid.Neighbors(c)
	var cells []grid.Cell
	for _, n := range append([]grid.Cell{c}, nb[:]...) {
		if ix.RegionOf(n) == id {
			cells = append(cells, n)
		}
	}
	require.GreaterOrEqual(t, len(cells), 3)

	claims := []region.Claim{
		{Cell: cells[0], Owner: "a", Method: region.MethodClick},
		{Cell: cells[1], Owner: "a", Method: region.MethodClick},
		{Cell: cells[2], Owner: "b", Method: region.MethodClick},
	}
	_, err := regions.ApplyClaims(ctx, id, claims)
	require.NoError(t, err)

	empty := ix.RegionForPoint(-20, -20)
	_, err = l.Record(ctx, Outcome{User: "a", Claimed: 2, Acquired: 2, Regions: []grid.Cell{id, empty}, At: t0})
	require.NoError(t, err)
	_, err = l.Record(ctx, Outcome{User: "b", Claimed: 1, Acquired: 1, Regions: []grid.Cell{id}, At: t0})
	require.NoError(t, err)

	own, err := l.RegionOwnership(ctx, "a", regions)
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, RegionOwnership{Region: id, Owned: 2, Total: 3, Majority: true}, own[0])
	assert.Equal(t, RegionOwnership{Region: empty}, own[1])

	own, err = l.RegionOwnership(ctx, "b", regions)
	require.NoError(t, err)
	assert.False(t, own[0].Majority)

	_, err = l.RegionOwnership(ctx, "nobody", regions)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
