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
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// SingleCaptureRequest is the body of POST /captures.
type SingleCaptureRequest struct {
	User  string   `json:"user" binding:"required"`
	Color string   `json:"color"`
	Lat   *float64 `json:"lat" binding:"required"`
	Lng   *float64 `json:"lng" binding:"required"`

	// Method overrides the recorded capture method: click, line or loop.
	Method region.Method `json:"method"`
}

// ViewportResult is the territory visible in a bounding box.
type ViewportResult struct {
	BBox       grid.BBox          `json:"bbox"`
	Resolution int                `json:"resolution"`
	CellCount  int                `json:"cellCount"`
	Regions    region.Territories `json:"regions"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"userId"`
	TotalCells    int    `json:"totalCells"`
	TotalRegions  int    `json:"totalRegions"`
	TotalCaptures int    `json:"totalCaptures"`
}

// LeaderboardResponse is a page of the leaderboard.
type LeaderboardResponse struct {
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	Entries []LeaderboardEntry `json:"entries"`
}

// RegionsResponse lists a user's standing per active region.
type RegionsResponse struct {
	User    string                  `json:"user"`
	Regions []stats.RegionOwnership `json:"regions"`
}

// HistoryResponse is a page of capture history, newest first.
type HistoryResponse struct {
	Count   int               `json:"count"`
	Records []*history.Record `json:"records"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by /ready.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`
}
