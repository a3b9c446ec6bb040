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
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/territory/services/territory/grid"
	storage "github.com/AleutianAI/territory/services/territory/storage/badger"
)

const keyPrefix = "user"

// BadgerStore persists each user's stats as a JSON document keyed
// "user/<id>". Update retries conflicting transactions inside the database
// layer.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db *storage.DB
}

// NewBadgerStore creates a store over db.
func NewBadgerStore(db *storage.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func userKey(user string) []byte {
	return storage.Key(keyPrefix, user)
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, user string, fn UpdateFunc) error {
	err := s.db.Update(ctx, "stats.update", func(txn *badger.Txn) error {
		current := &UserStats{UserID: user, ActiveRegions: []grid.Cell{}}
		exists := true
		err := storage.GetJSON(txn, userKey(user), current)
		if errors.Is(err, storage.ErrNotFound) {
			exists = false
		} else if err != nil {
			return err
		}
		write, err := fn(current, exists)
		if err != nil || !write {
			return err
		}
		return storage.SetJSON(txn, userKey(user), current)
	})
	return mapStorageError("update "+user, err)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, user string) (*UserStats, error) {
	var st UserStats
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return storage.GetJSON(txn, userKey(user), &st)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get %s: %w", user, ErrUserNotFound)
	}
	if err != nil {
		return nil, mapStorageError("get "+user, err)
	}
	return st.Clone(), nil
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context) ([]*UserStats, error) {
	var out []*UserStats
	err := s.db.Scan(ctx, keyPrefix, func(key, val []byte) error {
		var st UserStats
		if err := json.Unmarshal(val, &st); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, st.Clone())
		return nil
	})
	if err != nil {
		return nil, mapStorageError("list users", err)
	}
	return out, nil
}

func mapStorageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrStorageConflict)
	case errors.Is(err, storage.ErrUnavailable):
		return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
