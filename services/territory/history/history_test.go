// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/grid"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id, user string, at time.Time) *Record {
	c := grid.DefaultIndex().CellForPoint(1, 2)
	return &Record{
		ID:               id,
		User:             user,
		Color:            "#ff8800",
		Coordinates:      []grid.LatLng{{Lat: 1, Lng: 2}},
		CellPath:         []grid.Cell{c},
		PathType:         "single_hex",
		ClaimedCells:     []grid.Cell{c},
		BoundaryCount:    1,
		RegionsAffected:  []grid.Cell{grid.DefaultIndex().RegionOf(c)},
		Conflicts:        map[grid.Cell]string{c: "previous"},
		ProcessingTimeMs: 3,
		CapturedAt:       at,
	}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores(t *testing.T) {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": openSQLite,
	}
	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			t.Run("append and get", func(t *testing.T) { testAppendGet(t, newStore(t)) })
			t.Run("duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
			t.Run("invalid", func(t *testing.T) { testInvalid(t, newStore(t)) })
			t.Run("generated id", func(t *testing.T) { testGeneratedID(t, newStore(t)) })
			t.Run("list by user", func(t *testing.T) { testListByUser(t, newStore(t)) })
			t.Run("list by time", func(t *testing.T) { testListByTime(t, newStore(t)) })
		})
	}
}

func testAppendGet(t *testing.T, s Store) {
	ctx := context.Background()
	rec := record("r1", "alice", base)
	require.NoError(t, s.Append(ctx, rec))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.User, got.User)
	assert.Equal(t, rec.Color, got.Color)
	assert.Equal(t, rec.Coordinates, got.Coordinates)
	assert.Equal(t, rec.CellPath, got.CellPath)
	assert.Equal(t, rec.ClaimedCells, got.ClaimedCells)
	assert.Equal(t, rec.RegionsAffected, got.RegionsAffected)
	assert.Equal(t, rec.Conflicts, got.Conflicts)
	assert.Equal(t, rec.ProcessingTimeMs, got.ProcessingTimeMs)
	assert.True(t, rec.CapturedAt.Equal(got.CapturedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("r1", "alice", base)))
	err := s.Append(ctx, record("r1", "bob", base))
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User)
}

func testInvalid(t *testing.T, s Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.Append(ctx, record("r1", "", base)), ErrInvalidRecord)
	assert.ErrorIs(t, s.Append(ctx, record("r2", "alice", time.Time{})), ErrInvalidRecord)
}

func testGeneratedID(t *testing.T, s Store) {
	ctx := context.Background()
	rec := record("", "alice", base)
	require.NoError(t, s.Append(ctx, rec))
	require.Len(t, rec.ID, 36)

	_, err := s.Get(ctx, rec.ID)
	assert.NoError(t, err)
}

func testListByUser(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, record(fmt.Sprintf("a%d", i), "alice", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Append(ctx, record("b0", "bob", base.Add(2*time.Minute))))

	got, err := s.ListByUser(ctx, "alice", Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a3", "a2", "a1", "a0"}, ids(got))

	got, err = s.ListByUser(ctx, "alice", Query{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids(got))

	got, err = s.ListByUser(ctx, "alice", Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a3"}, ids(got))

	got, err = s.ListByUser(ctx, "carol", Query{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func testListByTime(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("x", "alice", base)))
	require.NoError(t, s.Append(ctx, record("y", "bob", base.Add(time.Second))))
	require.NoError(t, s.Append(ctx, record("z", "carol", base.Add(time.Second))))

	got, err := s.ListByTime(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, ids(got))

	got, err = s.ListByTime(ctx, Query{Since: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y"}, ids(got))
}

func TestQuery_Normalize(t *testing.T) {
	assert.Equal(t, DefaultLimit, Query{}.Normalize().Limit)
	assert.Equal(t, MaxLimit, Query{Limit: MaxLimit + 1}.Normalize().Limit)
	assert.Equal(t, 7, Query{Limit: 7}.Normalize().Limit)
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, record("r1", "alice", base)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var index string
	require.NoError(t, s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_path_history_user_time'",
	).Scan(&index))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User)
}

func TestSQLiteStore_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Append(ctx, record("r1", "alice", base)))
	require.NoError(t, src.Append(ctx, record("r2", "bob", base.Add(time.Minute))))

	var buf bytes.Buffer
	n, err := src.Snapshot(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	path := filepath.Join(t.TempDir(), "nested", "history.db")
	stale, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, stale.Append(ctx, record("old", "carol", base)))
	require.NoError(t, stale.Close())

	require.NoError(t, RestoreSQLite(&buf, path))

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.ListByTime(ctx, Query{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids(all))
	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".restore-")
	}
}

func TestRestoreSQLite_Rejects(t *testing.T) {
	assert.Error(t, RestoreSQLite(bytes.NewReader(nil), ":memory:"))

	path := filepath.Join(t.TempDir(), "history.db")
	err := RestoreSQLite(strings.NewReader("not a database"), path)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), record("r1", "alice", base))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrStorageUnavailable)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := record("r1", "alice", base)
	require.NoError(t, s.Append(ctx, rec))
	rec.ClaimedCells[0] = grid.InvalidCell

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.NotEqual(t, grid.InvalidCell, got.ClaimedCells[0])
}
