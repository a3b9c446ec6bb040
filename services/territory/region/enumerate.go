// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package region

import (
	"math"

	"github.com/AleutianAI/territory/services/territory/grid"
)

const (
	// DefaultLatticeSamples is the lattice size per axis.
	DefaultLatticeSamples = 5

	// DefaultCoveringLimit caps the regions a covering enumeration may return.
	DefaultCoveringLimit = 4096
)

// Enumerator lists the regions a bounding box may touch.
type Enumerator interface {
	RegionsOverlapping(bbox grid.BBox) ([]grid.Cell, error)
}

// LatticeEnumerator samples a fixed lattice of points across the box plus
// its corners and returns their regions.
//
// It is an approximation whose cost does not depend on the box size or the
// amount of stored data. It may return regions with nothing stored, and for
// boxes much wider than a region it can skip regions lying between sample points.
type LatticeEnumerator struct {
	index   *grid.Index
	samples int
}

// NewLatticeEnumerator creates a lattice enumerator. samples < 2 uses
// DefaultLatticeSamples.
func NewLatticeEnumerator(index *grid.Index, samples int) *LatticeEnumerator {
	if samples < 2 {
		samples = DefaultLatticeSamples
	}
	return &LatticeEnumerator{index: index, samples: samples}
}

// RegionsOverlapping implements Enumerator. Output is sorted.
func (e *LatticeEnumerator) RegionsOverlapping(bbox grid.BBox) ([]grid.Cell, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	pts := bbox.Lattice(e.samples)
	for _, c := range bbox.Corners() {
		pts = append(pts, c)
	}

	seen := make(map[grid.Cell]struct{}, len(pts))
	out := make([]grid.Cell, 0, len(pts))
	for _, p := range pts {
		id := e.index.RegionForPoint(p.Lat, p.Lng)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	grid.SortCells(out)
	return out, nil
}

// CoveringEnumerator returns every region whose cells can lie inside the
// box: all region-resolution cells centered in the box grown by one region
// edge.
type CoveringEnumerator struct {
	index *grid.Index
	limit int
}

// NewCoveringEnumerator creates a covering enumerator returning at most
// limit regions; limit <= 0 uses DefaultCoveringLimit.
func NewCoveringEnumerator(index *grid.Index, limit int) *CoveringEnumerator {
	if limit <= 0 {
		limit = DefaultCoveringLimit
	}
	return &CoveringEnumerator{index: index, limit: limit}
}

// RegionsOverlapping implements Enumerator. Output is sorted.
//
// Outputs:
//
//	error - grid.ErrInvalidBBox, or grid.ErrTooManyCells when the box spans
//	        more than the configured limit.
func (e *CoveringEnumerator) RegionsOverlapping(bbox grid.BBox) ([]grid.Cell, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	margin := grid.EdgeLength(e.index.RegionResolution())
	grown := grid.BBox{
		South: math.Max(-90, bbox.South-margin),
		West:  math.Max(-180, bbox.West-margin),
		North: math.Min(90, bbox.North+margin),
		East:  math.Min(180, bbox.East+margin),
	}
	return grid.CellsInBBox(grown, e.index.RegionResolution(), e.limit)
}
