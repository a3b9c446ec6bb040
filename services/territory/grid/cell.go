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
	"slices"
	"strconv"
)

const (
	// MaxResolution is the finest supported resolution.
	MaxResolution = 15

	coordBits = 30
	coordMask = 1<<coordBits - 1
	coordBias = 1 << (coordBits - 1)
	resShift  = 2 * coordBits
)

// Cell identifies one hexagon of the grid.
//
// Layout (most significant first): 4 bits resolution, 30 bits biased axial q,
// 30 bits biased axial r. The zero value is not a valid cell.
type Cell uint64

// InvalidCell is the zero Cell.
const InvalidCell Cell = 0

func newCell(res, q, r int) Cell {
	qq := uint64(q+coordBias) & coordMask
	rr := uint64(r+coordBias) & coordMask
	return Cell(uint64(res)<<resShift | qq<<coordBits | rr)
}

// Resolution returns the resolution the cell belongs to.
func (c Cell) Resolution() int {
	return int(uint64(c) >> resShift)
}

// Axial returns the cell's axial coordinates at its resolution.
func (c Cell) Axial() (q, r int) {
	q = int((uint64(c)>>coordBits)&coordMask) - coordBias
	r = int(uint64(c)&coordMask) - coordBias
	return q, r
}

// IsValid reports whether c can have been produced by this package.
func (c Cell) IsValid() bool {
	return c != InvalidCell && c.Resolution() <= MaxResolution
}

// String returns the 16 hex digit form of the cell.
func (c Cell) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// MarshalText implements encoding.TextMarshaler so cells can key JSON maps.
func (c Cell) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cell) UnmarshalText(text []byte) error {
	parsed, err := ParseCell(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCell decodes the String form of a cell.
//
// Outputs:
//
//	Cell - The decoded cell.
//	error - ErrInvalidCell wrapped with the offending text.
func ParseCell(s string) (Cell, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return InvalidCell, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	c := Cell(v)
	if !c.IsValid() {
		return InvalidCell, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	return c, nil
}

// SortCells orders cells by id in place.
func SortCells(cells []Cell) {
	slices.Sort(cells)
}
