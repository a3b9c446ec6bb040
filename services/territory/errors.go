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
	"errors"
	"net/http"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
)

var (
	// ErrInvalidQuery indicates malformed query parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrRateLimited indicates the user exceeded the submission rate.
	ErrRateLimited = errors.New("rate limited")
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidQuery       = "INVALID_QUERY"
	CodeNotFound           = "NOT_FOUND"
	CodeCaptureFailed      = "CAPTURE_FAILED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)

// classifyError maps an engine error to an HTTP status, error code and the
// message shown to the client.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, classify.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case errors.Is(err, ErrInvalidQuery),
		errors.Is(err, stats.ErrInvalidQuery),
		errors.Is(err, grid.ErrInvalidBBox),
		errors.Is(err, grid.ErrInvalidResolution),
		errors.Is(err, grid.ErrTooManyCells):
		return http.StatusBadRequest, CodeInvalidQuery, err.Error()
	case errors.Is(err, stats.ErrUserNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, err.Error()
	case errors.Is(err, capture.ErrCaptureFailed):
		return http.StatusServiceUnavailable, CodeCaptureFailed, capture.ErrCaptureFailed.Error()
	case errors.Is(err, region.ErrStorageUnavailable),
		errors.Is(err, stats.ErrStorageUnavailable),
		errors.Is(err, history.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, CodeStorageUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}
