// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps the immutable audit trail of processed captures.
//
// Every successful capture appends exactly one Record. Records are never
// updated or deleted and can be listed per user or across all users within
// a time window, newest first.
package history

import (
	"context"
	"time"

	"github.com/AleutianAI/territory/services/territory/grid"
)

const (
	// DefaultLimit is the page size used when a query sets none.
	DefaultLimit = 50

	// MaxLimit caps the page size of a query.
	MaxLimit = 500
)

// Record is one processed capture.
type Record struct {
	ID    string `json:"id"`
	User  string `json:"user"`
	Color string `json:"color,omitempty"`

	// Coordinates are the submitted points as received.
	Coordinates []grid.LatLng `json:"coordinates"`

	// CellPath is the submitted path mapped to cells, repeats collapsed.
	CellPath []grid.Cell `json:"cellPath"`

	PathType        string               `json:"pathType"`
	ClaimedCells    []grid.Cell          `json:"claimedCells"`
	BoundaryCount   int                  `json:"boundaryCount"`
	InteriorCount   int                  `json:"interiorCount"`
	RegionsAffected []grid.Cell          `json:"regionsAffected"`
	Conflicts       map[grid.Cell]string `json:"conflicts"`

	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CapturedAt       time.Time `json:"capturedAt"`
}

// Query selects records by capture time. Since is inclusive, Until is
// exclusive; zero values leave that side open.
type Query struct {
	Since time.Time
	Until time.Time

	// Limit is the maximum number of records, in 1..MaxLimit. Zero uses
	// DefaultLimit.
	Limit int
}

// Normalize clamps Limit into range.
func (q Query) Normalize() Query {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	return q
}

// matches reports whether t falls in the query window.
func (q Query) matches(t time.Time) bool {
	if !q.Since.IsZero() && t.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !t.Before(q.Until) {
		return false
	}
	return true
}

// Store is append-only capture history.
type Store interface {
	// Append stores rec. An existing id fails with ErrDuplicate.
	Append(ctx context.Context, rec *Record) error

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// ListByUser returns user's records in the window, newest first.
	ListByUser(ctx context.Context, user string, q Query) ([]*Record, error)

	// ListByTime returns all records in the window, newest first.
	ListByTime(ctx context.Context, q Query) ([]*Record, error)

	// Close releases resources.
	Close() error
}
