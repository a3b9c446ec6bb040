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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/territory/services/territory/grid"
	storage "github.com/AleutianAI/territory/services/territory/storage/badger"
)

// keyPrefix namespaces region documents in the shared database.
const keyPrefix = "region"

// BadgerStore persists each region as one JSON document keyed
// "region/<cell>".
//
// ApplyClaims runs a single optimistic transaction and does not retry: a
// concurrent commit to the same region fails the call with
// ErrStorageConflict and leaves the region untouched.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewBadgerStore creates a store over db.
func NewBadgerStore(db *storage.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

func regionKey(id grid.Cell) []byte {
	return storage.Key(keyPrefix, id.String())
}

// GetOrCreate implements Store.
func (s *BadgerStore) GetOrCreate(ctx context.Context, id grid.Cell) (*Region, error) {
	var out *Region
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		r, err := load(txn, id)
		out = r
		return err
	})
	if err != nil {
		return nil, mapStorageError("get region", err)
	}
	return out, nil
}

// ApplyClaims implements Store.
func (s *BadgerStore) ApplyClaims(ctx context.Context, id grid.Cell, claims []Claim) (*ApplyResult, error) {
	if err := ValidateClaims(id, claims); err != nil {
		return nil, err
	}

	var res *ApplyResult
	err := s.db.UpdateOnce(ctx, func(txn *badger.Txn) error {
		r, err := load(txn, id)
		if err != nil {
			return err
		}
		res = r.Apply(claims, s.now().UTC())
		res.Region = r
		return storage.SetJSON(txn, regionKey(id), r)
	})
	if err != nil {
		return nil, mapStorageError("apply claims", err)
	}
	return res, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, ids []grid.Cell) (map[grid.Cell]*Region, error) {
	out := make(map[grid.Cell]*Region, len(ids))
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			var r Region
			err := storage.GetJSON(txn, regionKey(id), &r)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[id] = normalize(&r)
		}
		return nil
	})
	if err != nil {
		return nil, mapStorageError("get regions", err)
	}
	return out, nil
}

// load reads region id inside txn, or returns a new empty region.
func load(txn *badger.Txn, id grid.Cell) (*Region, error) {
	var r Region
	err := storage.GetJSON(txn, regionKey(id), &r)
	if errors.Is(err, storage.ErrNotFound) {
		return New(id), nil
	}
	if err != nil {
		return nil, err
	}
	return normalize(&r), nil
}

// normalize restores non-nil collections after decoding.
func normalize(r *Region) *Region {
	if r.Territories == nil {
		r.Territories = make(map[grid.Cell]Territory)
	}
	if r.Metadata.OwnerCellCounts == nil {
		r.Metadata.OwnerCellCounts = make(map[string]int)
	}
	if r.Metadata.ContestedBy == nil {
		r.Metadata.ContestedBy = []string{}
	}
	return r
}

func mapStorageError(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrStorageConflict)
	case errors.Is(err, storage.ErrUnavailable):
		return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
