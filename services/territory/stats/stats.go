// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats maintains per-user capture statistics and the leaderboard.
package stats

import (
	"slices"
	"time"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// UserStats is a user's running totals.
type UserStats struct {
	UserID         string      `json:"userId"`
	TotalCells     int         `json:"totalCells"`
	TotalRegions   int         `json:"totalRegions"`
	LargestCapture int         `json:"largestCapture"`
	TotalCaptures  int         `json:"totalCaptures"`
	LastActive     time.Time   `json:"lastActive"`
	ActiveRegions  []grid.Cell `json:"activeRegions"`
}

// Clone returns a deep copy.
func (s *UserStats) Clone() *UserStats {
	out := *s
	out.ActiveRegions = slices.Clone(s.ActiveRegions)
	if out.ActiveRegions == nil {
		out.ActiveRegions = []grid.Cell{}
	}
	return &out
}

// Outcome is the part of a successful capture the ledger consumes.
type Outcome struct {
	User string

	// Claimed is the number of cells the capture claimed.
	Claimed int

	// Acquired is the number of claimed cells the user did not own before,
	// including cells taken from others.
	Acquired int

	// Losses maps each previous owner to the cells taken from them.
	Losses map[string]int

	// Regions are the regions the capture touched.
	Regions []grid.Cell

	At time.Time
}

// apply folds a capture by the stats' owner into s.
func (s *UserStats) apply(o Outcome) {
	s.TotalCells += o.Acquired
	s.TotalCaptures++
	s.LargestCapture = max(s.LargestCapture, o.Claimed)
	if o.At.After(s.LastActive) {
		s.LastActive = o.At
	}
	for _, r := range o.Regions {
		if !slices.Contains(s.ActiveRegions, r) {
			s.ActiveRegions = append(s.ActiveRegions, r)
			s.TotalRegions++
		}
	}
}

// lose removes n cells from s, floored at zero.
func (s *UserStats) lose(n int) {
	s.TotalCells = max(0, s.TotalCells-n)
}

// RegionOwnership is a user's standing in one region, computed on read.
type RegionOwnership struct {
	Region grid.Cell `json:"region"`

	// Owned is the number of cells the user holds in the region.
	Owned int `json:"owned"`

	// Total is the number of captured cells in the region.
	Total int `json:"total"`

	// Majority is true when Owned is more than half of Total.
	Majority bool `json:"majority"`
}
