// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grid implements the hierarchical hexagonal grid that territory
// ownership is recorded on.
//
// # Layout
//
// Cells are pointy-top hexagons in axial (q, r) coordinates laid over the
// spherical Web-Mercator projection provided by github.com/golang/geo/s2.
// Every resolution step divides the hexagon edge by sqrt(7), so a cell at
// resolution n+1 has roughly one seventh of the area of a cell at n.
// Resolution 10 has an edge of about 66 m at the equator.
//
// Latitudes are clamped to the Mercator limit (±85.05112878°). Longitudes do
// not wrap across the antimeridian: cells on either side of ±180° are
// distinct and not adjacent.
//
// # Hierarchy
//
// Parent maps a cell to the coarser cell containing its center. Hexagons do
// not nest exactly, so a parent's children are defined by that mapping, not by
// geometric containment. Regions used for storage partitioning are parents
// at the configured region resolution.
//
// # Thread Safety
//
// Everything in this package is a pure function over values and is safe for
// concurrent use.
package grid
