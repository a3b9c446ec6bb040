// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest checks region.Store implementations against the store
// write contract. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/region"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) region.Store

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetOrCreate does not write", func(t *testing.T) { testGetOrCreate(t, newStore(t)) })
	t.Run("first claims", func(t *testing.T) { testFirstClaims(t, newStore(t)) })
	t.Run("idempotent reclaim", func(t *testing.T) { testIdempotent(t, newStore(t)) })
	t.Run("conflict correctness", func(t *testing.T) { testConflict(t, newStore(t)) })
	t.Run("rejects foreign cells", func(t *testing.T) { testForeignCell(t, newStore(t)) })
	t.Run("concurrent writers lose no update", func(t *testing.T) { testConcurrentDistinct(t, newStore(t)) })
	t.Run("concurrent writers keep counts consistent", func(t *testing.T) { testConcurrentContended(t, newStore(t)) })
}

var index = grid.DefaultIndex()

// Cells returns n distinct cells of the region containing (lat, lng).
func Cells(t *testing.T, lat, lng float64, n int) (grid.Cell, []grid.Cell) {
	t.Helper()
	id := index.RegionForPoint(lat, lng)
	center := grid.Center(id)
	box := grid.BBox{South: center.Lat - 0.01, West: center.Lng - 0.01, North: center.Lat + 0.01, East: center.Lng + 0.01}
	candidates, err := grid.CellsInBBox(box, index.Resolution(), 1<<16)
	require.NoError(t, err)

	var out []grid.Cell
	for _, c := range candidates {
		if index.RegionOf(c) == id {
			out = append(out, c)
		}
		if len(out) == n {
			return id, out
		}
	}
	t.Fatalf("region %s has fewer than %d sample cells", id, n)
	return id, nil
}

func claims(cells []grid.Cell, owner string, method region.Method) []region.Claim {
	out := make([]region.Claim, len(cells))
	for i, c := range cells {
		out[i] = region.Claim{Cell: c, Owner: owner, Color: "#" + fmt.Sprintf("%06x", len(owner)), Method: method}
	}
	return out
}

// applyWithRetry retries conflicts the way the capture processor does.
func applyWithRetry(ctx context.Context, s region.Store, id grid.Cell, cs []region.Claim) (*region.ApplyResult, error) {
	for {
		res, err := s.ApplyClaims(ctx, id, cs)
		if errors.Is(err, region.ErrStorageConflict) {
			continue
		}
		return res, err
	}
}

func assertConsistent(t *testing.T, r *region.Region) {
	t.Helper()
	assert.Equal(t, len(r.Territories), r.Metadata.CellCount)
	counts := map[string]int{}
	for _, terr := range r.Territories {
		counts[terr.Owner]++
	}
	assert.Equal(t, counts, r.Metadata.OwnerCellCounts)
}

func testGetOrCreate(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, _ := Cells(t, 40.0, -3.7, 1)

	r, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.Empty(t, r.Territories)
	assert.Zero(t, r.Metadata.CellCount)

	stored, err := s.Get(ctx, []grid.Cell{id})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func testFirstClaims(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, cells := Cells(t, 40.0, -3.7, 5)

	res, err := s.ApplyClaims(ctx, id, claims(cells, "x", region.MethodLoop))
	require.NoError(t, err)
	assert.Empty(t, res.PreviousOwners)
	assert.Equal(t, map[string]int{"x": 5}, res.Acquired)

	r, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Metadata.CellCount)
	assert.Equal(t, 5, r.OwnedBy("x"))
	assert.Equal(t, []string{"x"}, r.Metadata.ContestedBy)
	assert.Equal(t, uint64(1), r.Version)
	assert.False(t, r.Metadata.LastUpdate.IsZero())
	assert.Equal(t, region.MethodLoop, r.Territories[cells[0]].Method)
	assertConsistent(t, r)
}

func testIdempotent(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, cells := Cells(t, 40.0, -3.7, 4)

	_, err := s.ApplyClaims(ctx, id, claims(cells, "x", region.MethodLine))
	require.NoError(t, err)
	before, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)

	res, err := s.ApplyClaims(ctx, id, claims(cells, "x", region.MethodLine))
	require.NoError(t, err)
	assert.Empty(t, res.PreviousOwners)
	assert.Empty(t, res.Acquired)

	after, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Metadata.CellCount, after.Metadata.CellCount)
	assert.Equal(t, before.Metadata.OwnerCellCounts, after.Metadata.OwnerCellCounts)
	assert.False(t, after.Territories[cells[0]].CapturedAt.Before(before.Territories[cells[0]].CapturedAt))
}

func testConflict(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, cells := Cells(t, 40.0, -3.7, 3)

	_, err := s.ApplyClaims(ctx, id, claims(cells, "a", region.MethodLine))
	require.NoError(t, err)

	res, err := s.ApplyClaims(ctx, id, claims(cells[:1], "b", region.MethodClick))
	require.NoError(t, err)
	assert.Equal(t, map[grid.Cell]string{cells[0]: "a"}, res.PreviousOwners)
	assert.Equal(t, map[string]int{"b": 1}, res.Acquired)

	r, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "b", r.Territories[cells[0]].Owner)
	assert.Equal(t, 2, r.OwnedBy("a"))
	assert.Equal(t, 1, r.OwnedBy("b"))
	assert.Equal(t, 3, r.Metadata.CellCount)
	assert.Equal(t, []string{"a", "b"}, r.Metadata.ContestedBy)
	assertConsistent(t, r)

	t.Run("losing every cell removes the owner", func(t *testing.T) {
		_, err := s.ApplyClaims(ctx, id, claims(cells, "b", region.MethodLine))
		require.NoError(t, err)
		r, err := s.GetOrCreate(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, r.OwnedBy("a"))
		assert.NotContains(t, r.Metadata.OwnerCellCounts, "a")
		assert.Contains(t, r.Metadata.ContestedBy, "a")
		assertConsistent(t, r)
	})
}

func testForeignCell(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, _ := Cells(t, 40.0, -3.7, 1)
	_, foreign := Cells(t, -33.9, 151.2, 1)

	_, err := s.ApplyClaims(ctx, id, claims(foreign, "x", region.MethodClick))
	require.Error(t, err)
	assert.ErrorIs(t, err, region.ErrInvalidClaim)

	stored, err := s.Get(ctx, []grid.Cell{id})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func testConcurrentDistinct(t *testing.T, s region.Store) {
	ctx := context.Background()
	const writers = 24
	id, cells := Cells(t, 40.0, -3.7, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("user-%02d", i)
			_, err := applyWithRetry(ctx, s, id, claims(cells[i:i+1], owner, region.MethodClick))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	r, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, writers, r.Metadata.CellCount)
	assert.Len(t, r.Metadata.ContestedBy, writers)
	assert.Equal(t, uint64(writers), r.Version)
	assertConsistent(t, r)
}

func testConcurrentContended(t *testing.T, s region.Store) {
	ctx := context.Background()
	id, cells := Cells(t, 40.0, -3.7, 6)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := []string{"a", "b", "c"}[i%3]
			_, err := applyWithRetry(ctx, s, id, claims(cells[i%3:], owner, region.MethodLine))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	r, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 6, r.Metadata.CellCount)
	assert.Equal(t, uint64(12), r.Version)
	assertConsistent(t, r)
}
