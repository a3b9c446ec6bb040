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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(enabled bool, perSecond float64, burst int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(enabled, perSecond, burst, time.Minute)
	r.now = clock.now
	return r, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	r, clock := newTestLimiter(true, 1, 2)

	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"), "burst exhausted")
	assert.True(t, r.Allow("b"), "separate bucket per user")

	clock.advance(time.Second)
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	r, _ := newTestLimiter(false, 0, 0)
	for range 100 {
		assert.True(t, r.Allow("a"))
	}
	assert.Zero(t, r.Tracked())
}

func TestRateLimiter_SetLimit(t *testing.T) {
	r, clock := newTestLimiter(true, 1, 1)
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))

	r.SetLimit(false, 0, 0)
	assert.True(t, r.Allow("a"))

	r.SetLimit(true, 10, 5)
	clock.advance(time.Second)
	for range 5 {
		assert.True(t, r.Allow("a"))
	}
	assert.False(t, r.Allow("a"))
}

func TestRateLimiter_SweepsIdleUsers(t *testing.T) {
	r, clock := newTestLimiter(true, 1, 1)
	r.Allow("idle")
	clock.advance(2 * time.Minute)

	for range sweepEvery - 1 {
		r.Allow("active")
	}
	assert.Equal(t, 1, r.Tracked())
}
