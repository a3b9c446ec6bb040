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

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/territory/services/territory/region"
)

const (
	// DefaultLeaderboardLimit is used when a request gives no limit.
	DefaultLeaderboardLimit = 10

	// MaxLeaderboardLimit caps the leaderboard page size.
	MaxLeaderboardLimit = 100
)

// Ledger applies capture outcomes to user stats and answers stats queries.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
}

// NewLedger creates a ledger over store. A nil logger uses slog.Default().
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger.With("component", "stats_ledger")}
}

// Record folds one successful capture into the stats of its user and of
// every user who lost cells to it.
//
// Description:
//
//	The capturing user gains o.Acquired cells, one capture, a possible new
//	largest capture and any regions not yet in their active set. Each loser
//	loses the cells taken from them, floored at zero; losers with no stats
//	record are skipped. Users are updated one at a time, so a failure part
//	way leaves earlier users updated.
//
// Outputs:
//
//	*UserStats - The capturing user's stats after the update.
//	error - Joined store errors; the capturing user's stats are still
//	        returned when only a loser update failed.
func (l *Ledger) Record(ctx context.Context, o Outcome) (*UserStats, error) {
	if o.User == "" {
		return nil, errors.New("record outcome: missing user")
	}

	var updated *UserStats
	err := l.store.Update(ctx, o.User, func(st *UserStats, _ bool) (bool, error) {
		st.apply(o)
		updated = st.Clone()
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record capture for %s: %w", o.User, err)
	}

	losers := make([]string, 0, len(o.Losses))
	for user := range o.Losses {
		if user != o.User {
			losers = append(losers, user)
		}
	}
	slices.Sort(losers)

	var errs []error
	for _, user := range losers {
		n := o.Losses[user]
		err := l.store.Update(ctx, user, func(st *UserStats, exists bool) (bool, error) {
			if !exists || n <= 0 {
				return false, nil
			}
			st.lose(n)
			return true, nil
		})
		if err != nil {
			l.logger.Warn("loser stats update failed", "user", user, "cells", n, "error", err)
			errs = append(errs, fmt.Errorf("record loss for %s: %w", user, err))
		}
	}
	return updated, errors.Join(errs...)
}

// Get returns a user's stats or ErrUserNotFound.
func (l *Ledger) Get(ctx context.Context, user string) (*UserStats, error) {
	return l.store.Get(ctx, user)
}

// Leaderboard returns users ordered by TotalCells descending, then user id
// ascending, skipping offset entries.
//
// Description:
//
//	limit 0 means DefaultLeaderboardLimit. Identical concurrent requests
//	share one store scan.
//
// Outputs:
//
//	[]*UserStats - Never nil on success.
//	error - ErrInvalidQuery for limit outside 0..MaxLeaderboardLimit or a
//	        negative offset, or a store error.
func (l *Ledger) Leaderboard(ctx context.Context, limit, offset int) ([]*UserStats, error) {
	if limit == 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit < 1 || limit > MaxLeaderboardLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLeaderboardLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidQuery)
	}

	// The shared read must outlive any one caller; each caller still
	// stops waiting when its own context ends.
	key := fmt.Sprintf("%d:%d", limit, offset)
	shareCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		all, err := l.store.List(shareCtx)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(all, func(a, b *UserStats) int {
			if c := cmp.Compare(b.TotalCells, a.TotalCells); c != 0 {
				return c
			}
			return cmp.Compare(a.UserID, b.UserID)
		})
		if offset >= len(all) {
			return []*UserStats{}, nil
		}
		end := min(len(all), offset+limit)
		return all[offset:end], nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("leaderboard: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("leaderboard: %w", res.Err)
	}

	shared := res.Val.([]*UserStats)
	out := make([]*UserStats, len(shared))
	for i, st := range shared {
		out[i] = st.Clone()
	}
	return out, nil
}

// RegionOwnership computes the user's standing in each of their active
// regions from the current region records. Nothing is stored.
//
// Outputs:
//
//	[]RegionOwnership - One entry per active region, in activation order.
//	error - ErrUserNotFound or a store error.
func (l *Ledger) RegionOwnership(ctx context.Context, user string, regions region.Store) ([]RegionOwnership, error) {
	st, err := l.store.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	stored, err := regions.Get(ctx, st.ActiveRegions)
	if err != nil {
		return nil, fmt.Errorf("region ownership for %s: %w", user, err)
	}

	out := make([]RegionOwnership, 0, len(st.ActiveRegions))
	for _, id := range st.ActiveRegions {
		own := RegionOwnership{Region: id}
		if r, ok := stored[id]; ok {
			own.Owned = r.OwnedBy(user)
			own.Total = r.Metadata.CellCount
			own.Majority = r.MajorityOwner(user)
		}
		out = append(out, own)
	}
	return out, nil
}
