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

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// MaxFillCandidates bounds the number of cell centers FillPolygon tests.
const MaxFillCandidates = 1 << 20

// BBox is a latitude/longitude rectangle in degrees. It does not cross the
// antimeridian: West <= East.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate checks that the box edges are in range and not inverted.
func (b BBox) Validate() error {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite edge", ErrInvalidBBox)
		}
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidBBox)
	}
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidBBox)
	}
	if b.South > b.North {
		return fmt.Errorf("%w: south %v is north of north %v", ErrInvalidBBox, b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("%w: west %v is east of east %v", ErrInvalidBBox, b.West, b.East)
	}
	return nil
}

// Rect returns the box as an s2 rectangle.
func (b BBox) Rect() s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.South, b.West)).
		AddPoint(s2.LatLngFromDegrees(b.North, b.East))
}

// Contains reports whether ll lies inside the box, edges included.
func (b BBox) Contains(ll LatLng) bool {
	return b.Rect().ContainsLatLng(ll.toS2())
}

// Corners returns the SW, SE, NE and NW corners.
func (b BBox) Corners() [4]LatLng {
	return [4]LatLng{
		{Lat: b.South, Lng: b.West},
		{Lat: b.South, Lng: b.East},
		{Lat: b.North, Lng: b.East},
		{Lat: b.North, Lng: b.West},
	}
}

// Lattice returns n x n evenly spaced sample points spanning the box,
// edges included. n < 2 returns the box center.
func (b BBox) Lattice(n int) []LatLng {
	if n < 2 {
		return []LatLng{{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2}}
	}
	out := make([]LatLng, 0, n*n)
	dLat := (b.North - b.South) / float64(n-1)
	dLng := (b.East - b.West) / float64(n-1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, LatLng{Lat: b.South + dLat*float64(i), Lng: b.West + dLng*float64(j)})
		}
	}
	return out
}

// CellsInBBox returns every cell at res whose center lies inside b, sorted.
//
// Outputs:
//
//	[]Cell - The cells, possibly empty.
//	error - ErrInvalidBBox, or ErrTooManyCells when the box would need more
//	        than limit candidate cells.
func CellsInBBox(b BBox, res, limit int) ([]Cell, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	res = clampResolution(res)
	lo := project(b.South, b.West)
	hi := project(b.North, b.East)

	var out []Cell
	err := forEachCandidate(lo, hi, EdgeLength(res), limit, func(q, r int, center r2.Point) {
		if b.Contains(unproject(center)) {
			out = append(out, newCell(res, q, r))
		}
	})
	if err != nil {
		return nil, err
	}
	SortCells(out)
	return out, nil
}

// FillPolygon returns every cell at res whose center lies inside the ring
// formed by points, sorted.
//
// Description:
//
//	The ring is closed implicitly; a repeated closing vertex and consecutive
//	duplicates are ignored. The ring becomes an s2.Loop normalized so that
//	it encloses at most half the sphere, which makes winding order
//	irrelevant. Self-intersecting rings are evaluated with the loop's
//	crossing-parity rule.
//
// Outputs:
//
//	[]Cell - Cells inside the ring. Empty for rings with fewer than three
//	         distinct vertices, zero-area rings, and rings spanning more than
//	         MaxFillCandidates candidate cells. Never an error.
func FillPolygon(points []LatLng, res int) []Cell {
	ring := distinctRing(points)
	if len(ring) < 3 {
		return nil
	}
	res = clampResolution(res)

	size := EdgeLength(res)
	vertices := make([]s2.Point, len(ring))
	projected := make([]r2.Point, len(ring))
	lo := r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	hi := r2.Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for i, ll := range ring {
		vertices[i] = s2.PointFromLatLng(ll.toS2())
		p := project(ll.Lat, ll.Lng)
		projected[i] = p
		lo = r2.Point{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y)}
		hi = r2.Point{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y)}
	}
	if planarArea(projected) < size*size*1e-9 {
		return nil
	}

	loop := s2.LoopFromPoints(vertices)
	loop.Normalize()
	if loop.IsEmpty() || loop.IsFull() {
		return nil
	}
	if a := loop.Area(); a <= 0 || a > 2*math.Pi {
		return nil
	}

	var out []Cell
	err := forEachCandidate(lo, hi, size, MaxFillCandidates, func(q, r int, center r2.Point) {
		if loop.ContainsPoint(s2.PointFromLatLng(mercator.ToLatLng(center))) {
			out = append(out, newCell(res, q, r))
		}
	})
	if err != nil {
		return nil
	}
	SortCells(out)
	return out
}

// planarArea returns the absolute shoelace area of a projected ring.
func planarArea(ring []r2.Point) float64 {
	var twice float64
	for i, p := range ring {
		q := ring[(i+1)%len(ring)]
		twice += p.Cross(q)
	}
	return math.Abs(twice) / 2
}

// distinctRing drops non-finite vertices, consecutive duplicates and the
// closing duplicate.
func distinctRing(points []LatLng) []LatLng {
	ring := make([]LatLng, 0, len(points))
	for _, p := range points {
		if !p.IsValid() {
			continue
		}
		if n := len(ring); n > 0 && ring[n-1] == p {
			continue
		}
		ring = append(ring, p)
	}
	for len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

// forEachCandidate visits every hexagon whose center may fall inside the
// projected window [lo, hi], with a one-cell margin.
func forEachCandidate(lo, hi r2.Point, size float64, limit int, fn func(q, r int, center r2.Point)) error {
	rowHeight := 1.5 * size
	colWidth := sqrt3 * size
	rMin := int(math.Floor(lo.Y/rowHeight)) - 1
	rMax := int(math.Ceil(hi.Y/rowHeight)) + 1
	cols := int(math.Ceil((hi.X-lo.X)/colWidth)) + 4

	if rows := rMax - rMin + 1; rows > 0 && cols > 0 && rows > limit/cols {
		return fmt.Errorf("%w: %d x %d candidates exceeds %d", ErrTooManyCells, rows, cols, limit)
	}

	for r := rMin; r <= rMax; r++ {
		offset := float64(r) / 2
		qMin := int(math.Floor(lo.X/colWidth-offset)) - 1
		qMax := int(math.Ceil(hi.X/colWidth-offset)) + 1
		for q := qMin; q <= qMax; q++ {
			center := axialToPoint(q, r, size)
			if center.X < lo.X-size || center.X > hi.X+size || center.Y < lo.Y-size || center.Y > hi.Y+size {
				continue
			}
			fn(q, r, center)
		}
	}
	return nil
}
