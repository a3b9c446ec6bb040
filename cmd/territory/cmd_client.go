// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/territory/services/territory"
	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/region"
	"github.com/AleutianAI/territory/services/territory/stats"
)

func runSubmit(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	var res capture.Result

	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
		if len(args) > 0 {
			return fmt.Errorf("give either a points file or --lat/--lng, not both")
		}
		lat, lng := submitLat, submitLng
		req := territory.SingleCaptureRequest{
			User:   submitUser,
			Color:  submitColor,
			Lat:    &lat,
			Lng:    &lng,
			Method: region.Method(submitMethod),
		}
		if err := client.do(cmd.Context(), http.MethodPost, "/captures", nil, req, &res); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), &res, func(w io.Writer) error { return writeCapture(w, &res) })
	}

	points, err := readPoints(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	in := classify.Input{
		User:    submitUser,
		Color:   submitColor,
		Points:  points,
		Options: classify.Options{AutoClose: submitClose},
	}
	if err := client.do(cmd.Context(), http.MethodPost, "/paths", nil, in, &res); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &res, func(w io.Writer) error { return writeCapture(w, &res) })
}

// readPoints accepts either a bare JSON array of points or an object with
// a "points" field, from the named file or stdin.
func readPoints(stdin io.Reader, args []string) ([]classify.Point, error) {
	r := stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}

	var points []classify.Point
	if err := json.Unmarshal(data, &points); err == nil {
		return points, nil
	}
	var wrapped struct {
		Points []classify.Point `json:"points"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse points: %w", err)
	}
	return wrapped.Points, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var st stats.UserStats
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(args[0])+"/stats", nil, nil, &st); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &st, func(w io.Writer) error { return writeStats(w, &st) })
}

func runRegions(cmd *cobra.Command, args []string) error {
	var resp territory.RegionsResponse
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(args[0])+"/regions", nil, nil, &resp); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &resp, func(w io.Writer) error { return writeRegions(w, &resp) })
}

func runLeaderboard(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	if lbLimit != 0 {
		q.Set("limit", strconv.Itoa(lbLimit))
	}
	if lbOffset != 0 {
		q.Set("offset", strconv.Itoa(lbOffset))
	}
	var resp territory.LeaderboardResponse
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/leaderboard", q, nil, &resp); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &resp, func(w io.Writer) error { return writeLeaderboard(w, &resp) })
}

func runHistory(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if historySince > 0 {
		q.Set("since", time.Now().Add(-historySince).UTC().Format(time.RFC3339Nano))
	}
	if historyLimit != 0 {
		q.Set("limit", strconv.Itoa(historyLimit))
	}
	path := "/history"
	if len(args) == 1 {
		path = "/users/" + url.PathEscape(args[0]) + "/history"
	}
	var resp territory.HistoryResponse
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, path, q, nil, &resp); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &resp, func(w io.Writer) error { return writeHistory(w, &resp) })
}
