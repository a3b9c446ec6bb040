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

import "context"

// UpdateFunc mutates a user's stats inside an atomic update. current is a
// fresh zero record with only UserID set when exists is false. Returning
// false for write skips the write.
type UpdateFunc func(current *UserStats, exists bool) (write bool, err error)

// Store persists UserStats.
//
// Update is atomic per user: concurrent updates of one user behave as if
// run one after another. fn may be called more than once.
type Store interface {
	Update(ctx context.Context, user string, fn UpdateFunc) error
	Get(ctx context.Context, user string) (*UserStats, error)

	// List returns every user's stats in unspecified order.
	List(ctx context.Context) ([]*UserStats, error)
}
