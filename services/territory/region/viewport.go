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
	"context"
	"fmt"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// CellOwner is the rendering view of one territory.
type CellOwner struct {
	Owner string `json:"owner"`
	Color string `json:"color"`
}

// Territories maps region id to the owned cells inside it.
type Territories map[grid.Cell]map[grid.Cell]CellOwner

// Viewport answers read-only map queries.
//
// Thread Safety: Safe for concurrent use if the store is.
type Viewport struct {
	store      Store
	enumerator Enumerator
}

// NewViewport creates a viewport over store using enumerator to pick regions.
func NewViewport(store Store, enumerator Enumerator) *Viewport {
	return &Viewport{store: store, enumerator: enumerator}
}

// Territories returns the owned cells of every stored region the box may
// touch.
//
// Description:
//
//	Only regions listed by the enumerator are read. Whole regions are
//	returned; cells outside the box are not clipped. Regions never written
//	are omitted, so a box over untouched ground yields an empty map.
//
// Outputs:
//
//	Territories - Never nil on success.
//	error - grid.ErrInvalidBBox, enumeration limits, or store errors.
func (v *Viewport) Territories(ctx context.Context, bbox grid.BBox) (Territories, error) {
	ids, err := v.enumerator.RegionsOverlapping(bbox)
	if err != nil {
		return nil, err
	}
	regions, err := v.store.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("viewport: %w", err)
	}

	out := make(Territories, len(regions))
	for id, r := range regions {
		if len(r.Territories) == 0 {
			continue
		}
		cells := make(map[grid.Cell]CellOwner, len(r.Territories))
		for cell, t := range r.Territories {
			cells[cell] = CellOwner{Owner: t.Owner, Color: t.Color}
		}
		out[id] = cells
	}
	return out, nil
}

// Coarsen re-keys cells by their parent at res, keeping the plurality owner
// of each parent.
//
// Description:
//
//	Children are tallied across all regions, so a parent straddling a
//	region boundary appears once. It is listed under the smallest region id
//	that contributed a child. Ties go to the lexicographically smallest
//	owner. The parent's color is taken from that owner's lowest-id child.
func (t Territories) Coarsen(res int) Territories {
	type tally struct {
		region grid.Cell
		counts map[string]int
		first  map[string]grid.Cell
		colors map[string]string
	}
	parents := make(map[grid.Cell]*tally)
	for id, cells := range t {
		for cell, owner := range cells {
			p := grid.Parent(cell, res)
			tl, ok := parents[p]
			if !ok {
				tl = &tally{
					region: id,
					counts: make(map[string]int),
					first:  make(map[string]grid.Cell),
					colors: make(map[string]string),
				}
				parents[p] = tl
			}
			if id < tl.region {
				tl.region = id
			}
			tl.counts[owner.Owner]++
			if first, seen := tl.first[owner.Owner]; !seen || cell < first {
				tl.first[owner.Owner] = cell
				tl.colors[owner.Owner] = owner.Color
			}
		}
	}

	out := make(Territories)
	for p, tl := range parents {
		best, bestN := "", -1
		for owner, n := range tl.counts {
			if n > bestN || (n == bestN && owner < best) {
				best, bestN = owner, n
			}
		}
		cells, ok := out[tl.region]
		if !ok {
			cells = make(map[grid.Cell]CellOwner)
			out[tl.region] = cells
		}
		cells[p] = CellOwner{Owner: best, Color: tl.colors[best]}
	}
	return out
}

// CellCount returns the total number of cells across all regions.
func (t Territories) CellCount() int {
	var n int
	for _, cells := range t {
		n += len(cells)
	}
	return n
}
