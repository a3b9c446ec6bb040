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
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// MaxLatitude is the Mercator latitude limit in degrees.
const MaxLatitude = 85.05112878

var mercator = s2.NewMercatorProjection(180)

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid reports whether the coordinate is finite and within
// [-90, 90] x [-180, 180].
func (ll LatLng) IsValid() bool {
	if math.IsNaN(ll.Lat) || math.IsNaN(ll.Lng) {
		return false
	}
	return s2.LatLngFromDegrees(ll.Lat, ll.Lng).IsValid()
}

func (ll LatLng) toS2() s2.LatLng {
	return s2.LatLngFromDegrees(ll.Lat, ll.Lng)
}

func fromS2(ll s2.LatLng) LatLng {
	return LatLng{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}

// project maps a coordinate onto the Mercator plane, clamping latitude and
// wrapping longitude. NaN components map to 0 so the result is always finite.
func project(lat, lng float64) r2.Point {
	if math.IsNaN(lat) {
		lat = 0
	}
	if math.IsNaN(lng) {
		lng = 0
	}
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	ll := s2.LatLngFromDegrees(lat, lng).Normalized()
	return mercator.FromLatLng(ll)
}

func unproject(p r2.Point) LatLng {
	return fromS2(mercator.ToLatLng(p))
}

// CellForPoint returns the cell at res containing (lat, lng).
//
// Description:
//
//	Deterministic: the same coordinate and resolution always produce the
//	same cell. Out-of-range resolutions are clamped to [0, MaxResolution].
func CellForPoint(lat, lng float64, res int) Cell {
	res = clampResolution(res)
	q, r := pointToAxial(project(lat, lng), EdgeLength(res))
	return newCell(res, q, r)
}

// Center returns the geographic center of c.
func Center(c Cell) LatLng {
	return unproject(centerPoint(c))
}

func centerPoint(c Cell) r2.Point {
	q, r := c.Axial()
	return axialToPoint(q, r, EdgeLength(c.Resolution()))
}

// Boundary returns the six vertices of c in counter-clockwise order,
// starting at the lower-right vertex.
func Boundary(c Cell) []LatLng {
	center := centerPoint(c)
	size := EdgeLength(c.Resolution())
	out := make([]LatLng, 6)
	for i := range out {
		angle := math.Pi / 180 * float64(60*i-30)
		out[i] = unproject(r2.Point{
			X: center.X + size*math.Cos(angle),
			Y: center.Y + size*math.Sin(angle),
		})
	}
	return out
}

// Parent returns the cell at coarser containing the center of c.
//
// Description:
//
//	Many-to-one mapping used for storage partitioning. When coarser is not
//	coarser than c's own resolution, c is returned unchanged.
func Parent(c Cell, coarser int) Cell {
	coarser = clampResolution(coarser)
	if coarser >= c.Resolution() {
		return c
	}
	q, r := pointToAxial(centerPoint(c), EdgeLength(coarser))
	return newCell(coarser, q, r)
}

func clampResolution(res int) int {
	if res < 0 {
		return 0
	}
	if res > MaxResolution {
		return MaxResolution
	}
	return res
}
