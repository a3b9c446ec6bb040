// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capture

import (
	"maps"
	"time"

	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/stats"
)

// Result is the outcome of one applied capture.
type Result struct {
	ID    string `json:"id"`
	User  string `json:"user"`
	Color string `json:"color,omitempty"`

	PathType      classify.PathType `json:"pathType"`
	CellPath      []grid.Cell       `json:"cellPath"`
	ClaimedCells  []grid.Cell       `json:"claimedCells"`
	BoundaryCount int               `json:"boundaryCount"`
	InteriorCount int               `json:"interiorCount"`

	// RegionsAffected is sorted by id.
	RegionsAffected []grid.Cell `json:"regionsAffected"`

	// Conflicts maps each cell taken from another user to that user.
	Conflicts map[grid.Cell]string `json:"conflicts"`

	// Acquired counts claimed cells the user did not own before.
	Acquired int `json:"acquired"`

	// Losses counts, per previous owner, the cells taken from them.
	Losses map[string]int `json:"losses,omitempty"`

	Degenerate       classify.Degeneracy `json:"degenerate,omitempty"`
	ProcessingTimeMs int64               `json:"processingTimeMs"`
	CapturedAt       time.Time           `json:"capturedAt"`
}

// Outcome converts the result into the ledger's input.
func (r *Result) Outcome() stats.Outcome {
	return stats.Outcome{
		User:     r.User,
		Claimed:  len(r.ClaimedCells),
		Acquired: r.Acquired,
		Losses:   maps.Clone(r.Losses),
		Regions:  r.RegionsAffected,
		At:       r.CapturedAt,
	}
}

// Record converts the result into its history record.
func (r *Result) Record(in *classify.Input) *history.Record {
	coords := make([]grid.LatLng, len(in.Points))
	for i, p := range in.Points {
		coords[i] = p.LatLng()
	}
	return &history.Record{
		ID:               r.ID,
		User:             r.User,
		Color:            r.Color,
		Coordinates:      coords,
		CellPath:         r.CellPath,
		PathType:         string(r.PathType),
		ClaimedCells:     r.ClaimedCells,
		BoundaryCount:    r.BoundaryCount,
		InteriorCount:    r.InteriorCount,
		RegionsAffected:  r.RegionsAffected,
		Conflicts:        r.Conflicts,
		ProcessingTimeMs: r.ProcessingTimeMs,
		CapturedAt:       r.CapturedAt,
	}
}
