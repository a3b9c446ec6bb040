// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// ErrCaptureFailed marks a capture whose region writes did not all succeed.
var ErrCaptureFailed = errors.New("capture failed, retry")

// PartialFailureError reports which regions of a failed capture were
// written. Regions in Succeeded keep their new owners; regions in Failed are
// unchanged.
//
// errors.Is matches ErrCaptureFailed and every underlying region error.
type PartialFailureError struct {
	Succeeded []grid.Cell
	Failed    []grid.Cell
	Err       error

	// Applied describes the cells that did change hands, limited to the
	// Succeeded regions. It is already in history; callers still owe the
	// stats update. Nil when no region was written.
	Applied *Result
}

func (e *PartialFailureError) Error() string {
	failed := make([]string, len(e.Failed))
	for i, id := range e.Failed {
		failed[i] = id.String()
	}
	return fmt.Sprintf("%v: %d of %d regions failed [%s]: %v",
		ErrCaptureFailed, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(failed, ","), e.Err)
}

// Unwrap exposes ErrCaptureFailed and the region errors.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrCaptureFailed, e.Err}
}
