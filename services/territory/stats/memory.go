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
	"fmt"
	"sync"

	"github.com/AleutianAI/territory/services/territory/grid"
)

// MemoryStore keeps stats in process memory.
//
// Thread Safety: Safe for concurrent use. Updates of one user are serialized
// by a per-user mutex.
type MemoryStore struct {
	locks sync.Map // string -> *sync.Mutex

	mu    sync.RWMutex
	users map[string]*UserStats
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*UserStats)}
}

func (s *MemoryStore) lockFor(user string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(user, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, user string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(user)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, exists := s.users[user]
	s.mu.RUnlock()

	var working *UserStats
	if exists {
		working = current.Clone()
	} else {
		working = &UserStats{UserID: user, ActiveRegions: []grid.Cell{}}
	}
	write, err := fn(working, exists)
	if err != nil || !write {
		return err
	}

	s.mu.Lock()
	s.users[user] = working
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, user string) (*UserStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.users[user]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", user, ErrUserNotFound)
	}
	return st.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*UserStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UserStats, 0, len(s.users))
	for _, st := range s.users {
		out = append(out, st.Clone())
	}
	return out, nil
}
