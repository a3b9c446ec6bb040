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

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps history in process memory.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("append %s: %w", rec.ID, ErrDuplicate)
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return clone(rec), nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(ctx context.Context, user string, q Query) ([]*Record, error) {
	return s.list(ctx, user, q)
}

// ListByTime implements Store.
func (s *MemoryStore) ListByTime(ctx context.Context, q Query) ([]*Record, error) {
	return s.list(ctx, "", q)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) list(ctx context.Context, user string, q Query) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	s.mu.RLock()
	matched := make([]*Record, 0)
	for _, rec := range s.records {
		if user != "" && rec.User != user {
			continue
		}
		if q.matches(rec.CapturedAt) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *Record) int {
		if c := b.CapturedAt.Compare(a.CapturedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*Record, len(matched))
	for i, rec := range matched {
		out[i] = clone(rec)
	}
	return out, nil
}

func clone(rec *Record) *Record {
	out := *rec
	out.Coordinates = slices.Clone(rec.Coordinates)
	out.CellPath = slices.Clone(rec.CellPath)
	out.ClaimedCells = slices.Clone(rec.ClaimedCells)
	out.RegionsAffected = slices.Clone(rec.RegionsAffected)
	out.Conflicts = maps.Clone(rec.Conflicts)
	out.CapturedAt = rec.CapturedAt.UTC()
	return &out
}
