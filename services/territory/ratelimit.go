// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package territory

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepEvery is how many Allow calls pass between idle sweeps.
const sweepEvery = 1024

// RateLimiter applies a token bucket per user.
//
// Thread Safety: Safe for concurrent use. SetLimit may be called while
// requests are being admitted.
type RateLimiter struct {
	mu      sync.Mutex
	enabled bool
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	users   map[string]*userLimiter
	calls   int
	now     func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond submissions per user
// with the given burst. Users idle longer than idleTTL are forgotten.
// enabled false admits everything.
func NewRateLimiter(enabled bool, perSecond float64, burst int, idleTTL time.Duration) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		enabled: enabled,
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		users:   make(map[string]*userLimiter),
		now:     time.Now,
	}
}

// Allow reports whether user may submit now, consuming a token if so.
func (r *RateLimiter) Allow(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return true
	}

	now := r.now()
	r.calls++
	if r.calls%sweepEvery == 0 {
		r.sweep(now)
	}

	u, ok := r.users[user]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.users[user] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// SetLimit changes the rate for new and existing users.
func (r *RateLimiter) SetLimit(enabled bool, perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	r.limit = rate.Limit(perSecond)
	r.burst = burst
	now := r.now()
	for _, u := range r.users {
		u.limiter.SetLimitAt(now, r.limit)
		u.limiter.SetBurstAt(now, burst)
	}
}

func (r *RateLimiter) sweep(now time.Time) {
	for user, u := range r.users {
		if now.Sub(u.lastSeen) > r.idleTTL {
			delete(r.users, user)
		}
	}
}

// Tracked returns how many users currently hold a bucket.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
