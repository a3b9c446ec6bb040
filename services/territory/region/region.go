// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package region stores cell ownership partitioned into coarse regions.
//
// A Region is the unit of storage and of write serialization: all claims on
// cells inside one region are applied by a single atomic read-modify-write.
// Different regions are independent, so a claim spanning several regions
// can be observed half-applied by concurrent readers.
package region

import (
	"fmt"
	"slices"
	"time"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// Method is how a cell was captured.
type Method string

const (
	// MethodClick is a single-cell capture.
	MethodClick Method = "click"

	// MethodLine is a capture along an open path.
	MethodLine Method = "line"

	// MethodLoop is a capture by enclosing a loop.
	MethodLoop Method = "loop"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodClick, MethodLine, MethodLoop:
		return true
	default:
		return false
	}
}

// Territory is the ownership record of one cell.
type Territory struct {
	Owner      string    `json:"owner"`
	Color      string    `json:"color"`
	CapturedAt time.Time `json:"capturedAt"`
	Method     Method    `json:"method"`
}

// Metadata summarizes a region's territories.
type Metadata struct {
	// CellCount is always len(Territories).
	CellCount int `json:"cellCount"`

	// LastUpdate is the time of the last applied claim batch.
	LastUpdate time.Time `json:"lastUpdate"`

	// OwnerCellCounts holds, per owner, the number of cells they own here.
	// Owners with zero cells are removed.
	OwnerCellCounts map[string]int `json:"ownerCellCounts"`

	// ContestedBy is the sorted set of every user who has claimed here.
	ContestedBy []string `json:"contestedBy"`
}

// Region is the storage aggregate for all cells sharing one parent cell.
type Region struct {
	ID          grid.Cell                `json:"id"`
	Territories map[grid.Cell]Territory `json:"territories"`
	Metadata    Metadata                 `json:"metadata"`

	// Version increments on every applied batch.
	Version uint64 `json:"version"`
}

// Claim asks for one cell to be owned by Owner.
type Claim struct {
	Cell   grid.Cell
	Owner  string
	Color  string
	Method Method
}

// ApplyResult reports what an ApplyClaims call changed.
type ApplyResult struct {
	// PreviousOwners maps each cell that changed hands to its prior owner.
	PreviousOwners map[grid.Cell]string

	// Acquired counts cells each claimant did not own before the batch,
	// including cells taken from others.
	Acquired map[string]int

	// Region is the region as stored after the batch.
	Region *Region
}

// New returns an empty region.
func New(id grid.Cell) *Region {
	return &Region{
		ID:          id,
		Territories: make(map[grid.Cell]Territory),
		Metadata: Metadata{
			OwnerCellCounts: make(map[string]int),
			ContestedBy:     []string{},
		},
	}
}

// Clone returns a deep copy.
func (r *Region) Clone() *Region {
	out := &Region{
		ID:          r.ID,
		Territories: make(map[grid.Cell]Territory, len(r.Territories)),
		Metadata: Metadata{
			CellCount:       r.Metadata.CellCount,
			LastUpdate:      r.Metadata.LastUpdate,
			OwnerCellCounts: make(map[string]int, len(r.Metadata.OwnerCellCounts)),
			ContestedBy:     slices.Clone(r.Metadata.ContestedBy),
		},
		Version: r.Version,
	}
	for cell, t := range r.Territories {
		out.Territories[cell] = t
	}
	for owner, n := range r.Metadata.OwnerCellCounts {
		out.Metadata.OwnerCellCounts[owner] = n
	}
	if out.Metadata.ContestedBy == nil {
		out.Metadata.ContestedBy = []string{}
	}
	return out
}

// ValidateClaims checks that every claim names an owner and a method and
// falls inside region id.
func ValidateClaims(id grid.Cell, claims []Claim) error {
	for i, c := range claims {
		if c.Owner == "" {
			return fmt.Errorf("%w: claim %d has no owner", ErrInvalidClaim, i)
		}
		if !c.Method.Valid() {
			return fmt.Errorf("%w: claim %d has unknown method %q", ErrInvalidClaim, i, c.Method)
		}
		if !c.Cell.IsValid() {
			return fmt.Errorf("%w: claim %d has invalid cell", ErrInvalidClaim, i)
		}
		if grid.Parent(c.Cell, id.Resolution()) != id {
			return fmt.Errorf("%w: cell %s is not in region %s", ErrInvalidClaim, c.Cell, id)
		}
	}
	return nil
}

// Apply mutates r with claims.
//
// Description:
//
//	For each claim the prior owner, when present and different, is recorded
//	and loses one cell in OwnerCellCounts (floored at 0) while the claimant
//	gains one. A claim by the current owner refreshes CapturedAt, Color and
//	Method without touching counts. Every claimant joins ContestedBy.
//	CellCount, LastUpdate and Version are updated once per batch.
//
// Outputs:
//
//	*ApplyResult - Previous owners and acquisitions. Region is left nil for
//	               the caller to fill.
func (r *Region) Apply(claims []Claim, now time.Time) *ApplyResult {
	if r.Territories == nil {
		r.Territories = make(map[grid.Cell]Territory)
	}
	if r.Metadata.OwnerCellCounts == nil {
		r.Metadata.OwnerCellCounts = make(map[string]int)
	}

	res := &ApplyResult{
		PreviousOwners: make(map[grid.Cell]string),
		Acquired:       make(map[string]int),
	}
	for _, c := range claims {
		prior, owned := r.Territories[c.Cell]
		switch {
		case !owned:
			r.Metadata.OwnerCellCounts[c.Owner]++
			res.Acquired[c.Owner]++
		case prior.Owner != c.Owner:
			res.PreviousOwners[c.Cell] = prior.Owner
			r.decrement(prior.Owner)
			r.Metadata.OwnerCellCounts[c.Owner]++
			res.Acquired[c.Owner]++
		}
		r.Territories[c.Cell] = Territory{
			Owner:      c.Owner,
			Color:      c.Color,
			CapturedAt: now,
			Method:     c.Method,
		}
		r.addContender(c.Owner)
	}

	r.Metadata.CellCount = len(r.Territories)
	r.Metadata.LastUpdate = now
	r.Version++
	return res
}

func (r *Region) decrement(owner string) {
	n := r.Metadata.OwnerCellCounts[owner] - 1
	if n <= 0 {
		delete(r.Metadata.OwnerCellCounts, owner)
		return
	}
	r.Metadata.OwnerCellCounts[owner] = n
}

func (r *Region) addContender(user string) {
	i, found := slices.BinarySearch(r.Metadata.ContestedBy, user)
	if !found {
		r.Metadata.ContestedBy = slices.Insert(r.Metadata.ContestedBy, i, user)
	}
}

// OwnedBy returns how many cells user owns here.
func (r *Region) OwnedBy(user string) int {
	return r.Metadata.OwnerCellCounts[user]
}

// MajorityOwner reports whether user owns more than half of the region's
// captured cells.
func (r *Region) MajorityOwner(user string) bool {
	return r.Metadata.CellCount > 0 && 2*r.OwnedBy(user) > r.Metadata.CellCount
}
