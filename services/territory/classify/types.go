// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"github.com/AleutianAI/territory/services/territory/grid"
)

// PathType is the shape a submitted path was classified as.
type PathType string

const (
	// SingleHex is a path that never left its first cell.
	SingleHex PathType = "single_hex"

	// OpenPath is a path whose ends do not meet.
	OpenPath PathType = "open_path"

	// ClosedLoop is a path whose ends meet or touch; its interior is claimed.
	ClosedLoop PathType = "closed_loop"
)

// Degeneracy records a geometry fallback taken during classification.
type Degeneracy string

const (
	// DegenerateNone means no fallback was needed.
	DegenerateNone Degeneracy = ""

	// DegenerateEmptyFill means a closed loop filled no cells and only its
	// boundary was claimed.
	DegenerateEmptyFill Degeneracy = "empty_fill"

	// DegenerateLineTrace means at least one gap between consecutive cells
	// could not be traced and only its endpoints were claimed.
	DegenerateLineTrace Degeneracy = "line_trace"
)

// Point is one GPS sample.
type Point struct {
	Lat float64 `json:"lat" validate:"finite,gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"finite,gte=-180,lte=180"`
}

// LatLng converts the point to a grid coordinate.
func (p Point) LatLng() grid.LatLng {
	return grid.LatLng{Lat: p.Lat, Lng: p.Lng}
}

// Options controls loop detection.
type Options struct {
	// AutoClose enables closed-loop detection.
	AutoClose bool `json:"autoClose"`

	// MinLoopSize is the minimum number of cells a loop needs before its
	// closure is tested. Zero uses the classifier default.
	MinLoopSize int `json:"minLoopSize" validate:"gte=0,lte=10000"`
}

// Input is a raw path submission.
type Input struct {
	User    string  `json:"user" validate:"required,max=128"`
	Color   string  `json:"color" validate:"omitempty,max=64,iscolor"`
	Points  []Point `json:"points" validate:"required,min=1,dive"`
	Options Options `json:"options"`
}

// Classification is the outcome of classifying one path.
type Classification struct {
	// PathType is the detected shape.
	PathType PathType

	// CellPath is the cell sequence with consecutive duplicates collapsed.
	CellPath []grid.Cell

	// Claimed is every cell the path claims, without duplicates. Boundary
	// cells come first in path order, interior cells follow sorted by id.
	Claimed []grid.Cell

	// BoundaryCount is the number of claimed cells derived from the path.
	BoundaryCount int

	// InteriorCount is the number of claimed cells filled inside a loop.
	InteriorCount int

	// Degenerate names the geometry fallback taken, if any.
	Degenerate Degeneracy
}
