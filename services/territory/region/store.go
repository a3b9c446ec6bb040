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

	"github.com/AleutianAI/territory/services/territory/grid"
)

// Store is durable region storage.
//
// # Write Contract
//
// ApplyClaims is atomic per region: concurrent calls for the same region id
// behave as if executed one after another, and no call observes or
// overwrites a partially applied batch. An implementation may block
// (per-key locking) or fail with ErrStorageConflict (optimistic
// concurrency); in the latter case nothing was written and the caller may
// retry with the same claims. Calls for different regions are independent.
// The storetest package checks this contract.
//
// Regions returned by any method are copies owned by the caller.
type Store interface {
	// GetOrCreate returns the stored region or a new empty one. It never
	// writes.
	GetOrCreate(ctx context.Context, id grid.Cell) (*Region, error)

	// ApplyClaims atomically applies claims to region id and persists it.
	// All claim cells must belong to id.
	ApplyClaims(ctx context.Context, id grid.Cell, claims []Claim) (*ApplyResult, error)

	// Get returns the stored regions among ids. Ids never written are absent
	// from the map.
	Get(ctx context.Context, ids []grid.Cell) (map[grid.Cell]*Region, error)
}
