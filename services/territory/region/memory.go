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
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// MemoryStore keeps regions in process memory.
//
// Thread Safety: Safe for concurrent use. Writers to the same region are
// serialized by a per-region mutex; writers to different regions run in
// parallel.
type MemoryStore struct {
	locks sync.Map // grid.Cell -> *sync.Mutex

	mu      sync.RWMutex
	regions map[grid.Cell]*Region

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		regions: make(map[grid.Cell]*Region),
		now:     time.Now,
	}
}

func (s *MemoryStore) lockFor(id grid.Cell) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id grid.Cell) (*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.regions[id]; ok {
		return r.Clone(), nil
	}
	return New(id), nil
}

// ApplyClaims implements Store.
func (s *MemoryStore) ApplyClaims(ctx context.Context, id grid.Cell, claims []Claim) (*ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateClaims(id, claims); err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.regions[id]
	s.mu.RUnlock()

	var working *Region
	if ok {
		working = current.Clone()
	} else {
		working = New(id)
	}
	res := working.Apply(claims, s.now().UTC())

	s.mu.Lock()
	s.regions[id] = working
	s.mu.Unlock()

	res.Region = working.Clone()
	return res, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ids []grid.Cell) (map[grid.Cell]*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get regions: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[grid.Cell]*Region, len(ids))
	for _, id := range ids {
		if r, ok := s.regions[id]; ok {
			out[id] = r.Clone()
		}
	}
	return out, nil
}
