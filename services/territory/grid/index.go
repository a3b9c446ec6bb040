// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grid

import "fmt"

const (
	// DefaultResolution is the capture cell resolution (~66 m edge).
	DefaultResolution = 10

	// DefaultRegionResolution is the storage partition resolution (~26 km edge).
	DefaultRegionResolution = 6
)

// Index binds the grid functions to a fixed cell resolution and region
// resolution.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Index struct {
	resolution       int
	regionResolution int
}

// NewIndex creates an Index.
//
// Inputs:
//
//	resolution - Cell resolution, 0..MaxResolution.
//	regionResolution - Region resolution, strictly coarser than resolution.
//
// Outputs:
//
//	*Index - The index.
//	error - ErrInvalidResolution if either value is out of range.
func NewIndex(resolution, regionResolution int) (*Index, error) {
	if resolution < 0 || resolution > MaxResolution {
		return nil, fmt.Errorf("%w: cell resolution %d", ErrInvalidResolution, resolution)
	}
	if regionResolution < 0 || regionResolution >= resolution {
		return nil, fmt.Errorf("%w: region resolution %d must be coarser than %d",
			ErrInvalidResolution, regionResolution, resolution)
	}
	return &Index{resolution: resolution, regionResolution: regionResolution}, nil
}

// DefaultIndex returns an Index at DefaultResolution/DefaultRegionResolution.
func DefaultIndex() *Index {
	return &Index{resolution: DefaultResolution, regionResolution: DefaultRegionResolution}
}

// Resolution returns the cell resolution.
func (ix *Index) Resolution() int { return ix.resolution }

// RegionResolution returns the region resolution.
func (ix *Index) RegionResolution() int { return ix.regionResolution }

// CellForPoint returns the cell containing (lat, lng).
func (ix *Index) CellForPoint(lat, lng float64) Cell {
	return CellForPoint(lat, lng, ix.resolution)
}

// RegionOf returns the region a cell is stored in.
func (ix *Index) RegionOf(c Cell) Cell {
	return Parent(c, ix.regionResolution)
}

// RegionForPoint returns the region containing (lat, lng).
func (ix *Index) RegionForPoint(lat, lng float64) Cell {
	return ix.RegionOf(ix.CellForPoint(lat, lng))
}

// Fill returns the cells inside the ring at the cell resolution.
func (ix *Index) Fill(points []LatLng) []Cell {
	return FillPolygon(points, ix.resolution)
}
