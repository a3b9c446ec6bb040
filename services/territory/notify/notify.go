// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers applied captures to realtime consumers.
//
// Notification is best-effort: implementations log and count their own
// failures and never report them to the capture path.
package notify

import (
	"context"
	"time"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/stats"
)

// EventType names a realtime message.
type EventType string

const (
	// EventCaptureApplied carries a capture result.
	EventCaptureApplied EventType = "capture_applied"

	// EventStatsUpdated carries the capturing user's stats after the capture.
	EventStatsUpdated EventType = "stats_updated"
)

// Event is one applied capture and the stats it produced.
type Event struct {
	Capture *capture.Result

	// Stats is the capturing user's stats; nil when the ledger update failed.
	Stats *stats.UserStats

	At time.Time
}

// Notifier receives every applied capture.
//
// Implementations must not block the caller for long and must be safe for
// concurrent use.
type Notifier interface {
	CaptureApplied(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// CaptureApplied implements Notifier.
func (Nop) CaptureApplied(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

// CaptureApplied implements Notifier.
func (m Multi) CaptureApplied(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.CaptureApplied(ctx, ev)
		}
	}
}
