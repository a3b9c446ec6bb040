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

import "errors"

// Sentinel errors for grid operations.
var (
	// ErrInvalidCell indicates a cell id that does not decode to a grid cell.
	ErrInvalidCell = errors.New("invalid cell")

	// ErrInvalidResolution indicates a resolution outside [0, MaxResolution].
	ErrInvalidResolution = errors.New("invalid resolution")

	// ErrInvalidBBox indicates a bounding box with out-of-range or inverted edges.
	ErrInvalidBBox = errors.New("invalid bounding box")

	// ErrTooManyCells indicates an enumeration would exceed its cell limit.
	ErrTooManyCells = errors.New("too many cells")
)
