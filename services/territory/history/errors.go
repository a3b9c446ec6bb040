// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import "errors"

var (
	// ErrDuplicate is returned when appending a record id that exists.
	ErrDuplicate = errors.New("history record already exists")

	// ErrNotFound is returned when a record id is unknown.
	ErrNotFound = errors.New("history record not found")

	// ErrStorageUnavailable is returned when the database cannot be used.
	ErrStorageUnavailable = errors.New("history storage unavailable")

	// ErrInvalidRecord is returned for records missing an id, user or time.
	ErrInvalidRecord = errors.New("invalid history record")
)
