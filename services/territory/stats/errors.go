// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import "errors"

var (
	// ErrUserNotFound is returned for users with no recorded capture.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidQuery is returned for out-of-range leaderboard paging.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrStorageConflict is returned when a stats update kept losing
	// optimistic concurrency races.
	ErrStorageConflict = errors.New("stats storage conflict")

	// ErrStorageUnavailable is returned when the stats store cannot be used.
	ErrStorageUnavailable = errors.New("stats storage unavailable")
)
