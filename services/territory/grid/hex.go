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
)

// MaxLineDistance is the longest hex distance LineCells will trace.
const MaxLineDistance = 4096

// baseEdge is the hexagon edge length at resolution 0 in projected units.
const baseEdge = 9.97

var sqrt3 = math.Sqrt(3)

// neighborDirections are the six axial offsets, counter-clockwise from east.
var neighborDirections = [6][2]int{
	{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1},
}

// EdgeLength returns the hexagon edge length at res in projected units
// (degrees of longitude at the equator).
func EdgeLength(res int) float64 {
	return baseEdge / math.Pow(math.Sqrt(7), float64(res))
}

// axialToPoint returns the projected center of hexagon (q, r).
func axialToPoint(q, r int, size float64) r2.Point {
	return r2.Point{
		X: size * (sqrt3*float64(q) + sqrt3/2*float64(r)),
		Y: size * 1.5 * float64(r),
	}
}

// pointToAxial returns the hexagon containing projected point p.
func pointToAxial(p r2.Point, size float64) (int, int) {
	fq := (sqrt3/3*p.X - p.Y/3) / size
	fr := (2.0 / 3.0 * p.Y) / size
	return cubeRound(fq, fr, -fq-fr)
}

func cubeRound(fq, fr, fs float64) (int, int) {
	q := math.Round(fq)
	r := math.Round(fr)
	s := math.Round(fs)

	dq := math.Abs(q - fq)
	dr := math.Abs(r - fr)
	ds := math.Abs(s - fs)

	switch {
	case dq > dr && dq > ds:
		q = -r - s
	case dr > ds:
		r = -q - s
	}
	return int(q), int(r)
}

func axialDistance(qa, ra, qb, rb int) int {
	dq := abs(qa - qb)
	dr := abs(ra - rb)
	ds := abs((-qa - ra) - (-qb - rb))
	return max(dq, dr, ds)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Distance returns the hex distance between two cells, or -1 when they are
// at different resolutions.
func Distance(a, b Cell) int {
	if a.Resolution() != b.Resolution() {
		return -1
	}
	qa, ra := a.Axial()
	qb, rb := b.Axial()
	return axialDistance(qa, ra, qb, rb)
}

// AreAdjacent reports whether two cells share an edge.
func AreAdjacent(a, b Cell) bool {
	return Distance(a, b) == 1
}

// Neighbors returns the six cells sharing an edge with c, counter-clockwise
// from east.
func Neighbors(c Cell) [6]Cell {
	q, r := c.Axial()
	res := c.Resolution()
	var out [6]Cell
	for i, d := range neighborDirections {
		out[i] = newCell(res, q+d[0], r+d[1])
	}
	return out
}

// LineCells traces the straight line between two cells.
//
// Description:
//
//	Walks the cube-coordinate line from a to b, rounding each of the
//	distance+1 evenly spaced samples to its hexagon. A small nudge keeps
//	samples that fall exactly on an edge on a consistent side, so the result
//	is connected: consecutive cells are adjacent.
//
// Outputs:
//
//	[]Cell - a..b inclusive. When a == b, just [a].
//	bool - false when the line could not be traced (different resolutions or
//	       distance above MaxLineDistance); the slice is then [a, b].
func LineCells(a, b Cell) ([]Cell, bool) {
	if a == b {
		return []Cell{a}, true
	}
	n := Distance(a, b)
	if n < 0 || n > MaxLineDistance {
		return []Cell{a, b}, false
	}

	res := a.Resolution()
	qa, ra := a.Axial()
	qb, rb := b.Axial()

	const eps = 1e-6
	aq, ar, as := float64(qa)+eps, float64(ra)+eps, float64(-qa-ra)-2*eps
	bq, br, bs := float64(qb)+eps, float64(rb)+eps, float64(-qb-rb)-2*eps

	out := make([]Cell, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		q, r := cubeRound(lerp(aq, bq, t), lerp(ar, br, t), lerp(as, bs, t))
		c := newCell(res, q, r)
		if len(out) > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	return out, true
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
