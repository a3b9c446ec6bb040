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
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/territory/services/territory/grid"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - initial table and time index
// 1 - per-user time index
const currentSchemaVersion = 1

// SQLiteStore keeps history in a SQLite database with WAL journaling.
//
// Thread Safety: Safe for concurrent use. Writes go through a single
// connection.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies pragmas and
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect to database: %v", ErrStorageUnavailable, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_path_history_user_time
			ON path_history(user_id, captured_at)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// prepare validates rec and assigns a UUIDv7 id when it has none.
func prepare(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.User == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRecord)
	}
	if rec.CapturedAt.IsZero() {
		return fmt.Errorf("%w: missing capture time", ErrInvalidRecord)
	}
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = id.String()
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec); err != nil {
		return err
	}

	cols, err := encodeColumns(rec)
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO path_history
		(id, user_id, color, path_type, coordinates, cell_path, claimed_cells,
		 boundary_count, interior_count, regions_affected, conflicts,
		 processing_time_ms, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.User,
		rec.Color,
		rec.PathType,
		cols.coordinates,
		cols.cellPath,
		cols.claimed,
		rec.BoundaryCount,
		rec.InteriorCount,
		cols.regions,
		cols.conflicts,
		rec.ProcessingTimeMs,
		rec.CapturedAt.UTC().UnixNano(),
	)
	if err != nil {
		return mapSQLError("append", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLError("append", err)
	}
	if n == 0 {
		return fmt.Errorf("append %s: %w", rec.ID, ErrDuplicate)
	}
	return nil
}

const selectColumns = `
	SELECT id, user_id, color, path_type, coordinates, cell_path, claimed_cells,
	       boundary_count, interior_count, regions_affected, conflicts,
	       processing_time_ms, captured_at
	FROM path_history`

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, mapSQLError("get", err)
	}
	return rec, nil
}

// ListByUser implements Store.
func (s *SQLiteStore) ListByUser(ctx context.Context, user string, q Query) ([]*Record, error) {
	return s.list(ctx, user, q)
}

// ListByTime implements Store.
func (s *SQLiteStore) ListByTime(ctx context.Context, q Query) ([]*Record, error) {
	return s.list(ctx, "", q)
}

func (s *SQLiteStore) list(ctx context.Context, user string, q Query) ([]*Record, error) {
	q = q.Normalize()

	var where []string
	var args []any
	if user != "" {
		where = append(where, "user_id = ?")
		args = append(args, user)
	}
	if !q.Since.IsZero() {
		where = append(where, "captured_at >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "captured_at < ?")
		args = append(args, q.Until.UTC().UnixNano())
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY captured_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError("list", err)
	}
	defer rows.Close()

	out := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mapSQLError("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLError("list", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec                                           Record
		coordinates, cellPath, claimed, regions, cfls string
		capturedAt                                    int64
	)
	err := sc.Scan(
		&rec.ID, &rec.User, &rec.Color, &rec.PathType,
		&coordinates, &cellPath, &claimed,
		&rec.BoundaryCount, &rec.InteriorCount,
		&regions, &cfls,
		&rec.ProcessingTimeMs, &capturedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CapturedAt = time.Unix(0, capturedAt).UTC()

	fields := []struct {
		name string
		raw  string
		dst  any
	}{
		{"coordinates", coordinates, &rec.Coordinates},
		{"cell_path", cellPath, &rec.CellPath},
		{"claimed_cells", claimed, &rec.ClaimedCells},
		{"regions_affected", regions, &rec.RegionsAffected},
		{"conflicts", cfls, &rec.Conflicts},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", f.name, rec.ID, err)
		}
	}
	if rec.Conflicts == nil {
		rec.Conflicts = map[grid.Cell]string{}
	}
	return &rec, nil
}

type encodedColumns struct {
	coordinates, cellPath, claimed, regions, conflicts string
}

func encodeColumns(rec *Record) (encodedColumns, error) {
	var out encodedColumns
	fields := []struct {
		name string
		src  any
		dst  *string
	}{
		{"coordinates", nonNil(rec.Coordinates), &out.coordinates},
		{"cell_path", nonNil(rec.CellPath), &out.cellPath},
		{"claimed_cells", nonNil(rec.ClaimedCells), &out.claimed},
		{"regions_affected", nonNil(rec.RegionsAffected), &out.regions},
		{"conflicts", rec.Conflicts, &out.conflicts},
	}
	for _, f := range fields {
		raw, err := json.Marshal(f.src)
		if err != nil {
			return out, fmt.Errorf("encode %s: %w", f.name, err)
		}
		*f.dst = string(raw)
	}
	if rec.Conflicts == nil {
		out.conflicts = "{}"
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func mapSQLError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	case strings.Contains(err.Error(), "database is closed"):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
