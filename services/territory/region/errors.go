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

import "errors"

// Sentinel errors for region storage.
var (
	// ErrStorageConflict indicates a region write lost a concurrent-modification
	// race and was not applied. Retrying with the same claims is safe.
	ErrStorageConflict = errors.New("region storage conflict")

	// ErrStorageUnavailable indicates the underlying store cannot be reached.
	ErrStorageUnavailable = errors.New("region storage unavailable")

	// ErrInvalidClaim indicates a claim that cannot be applied to its region.
	ErrInvalidClaim = errors.New("invalid claim")
)
