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
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/territory/services/territory"
	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/stats"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// render prints v as an aligned table on a terminal and as indented JSON
// when piped or when --json is set.
func render(w io.Writer, v any, table func(io.Writer) error) error {
	if jsonOutput || !isTerminal(w) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return table(w)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writeLeaderboard(w io.Writer, resp *territory.LeaderboardResponse) error {
	if len(resp.Entries) == 0 {
		_, err := fmt.Fprintln(w, "No users ranked yet.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RANK\tUSER\tCELLS\tREGIONS\tCAPTURES")
	for _, e := range resp.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", e.Rank, e.UserID, e.TotalCells, e.TotalRegions, e.TotalCaptures)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, st *stats.UserStats) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "USER\t%s\n", st.UserID)
	fmt.Fprintf(tw, "CELLS\t%d\n", st.TotalCells)
	fmt.Fprintf(tw, "REGIONS\t%d\n", st.TotalRegions)
	fmt.Fprintf(tw, "LARGEST CAPTURE\t%d\n", st.LargestCapture)
	fmt.Fprintf(tw, "CAPTURES\t%d\n", st.TotalCaptures)
	fmt.Fprintf(tw, "LAST ACTIVE\t%s\n", formatTime(st.LastActive))
	return tw.Flush()
}

func writeRegions(w io.Writer, resp *territory.RegionsResponse) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "REGION\tOWNED\tTOTAL\tMAJORITY")
	for _, r := range resp.Regions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Region, r.Owned, r.Total, yesNo(r.Majority))
	}
	return tw.Flush()
}

func writeCapture(w io.Writer, res *capture.Result) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID\t%s\n", res.ID)
	fmt.Fprintf(tw, "USER\t%s\n", res.User)
	fmt.Fprintf(tw, "PATH TYPE\t%s\n", res.PathType)
	fmt.Fprintf(tw, "CLAIMED\t%d (%d boundary, %d interior)\n", len(res.ClaimedCells), res.BoundaryCount, res.InteriorCount)
	fmt.Fprintf(tw, "ACQUIRED\t%d\n", res.Acquired)
	fmt.Fprintf(tw, "CONFLICTS\t%d\n", len(res.Conflicts))
	fmt.Fprintf(tw, "REGIONS\t%d\n", len(res.RegionsAffected))
	if res.Degenerate != "" {
		fmt.Fprintf(tw, "DEGENERATE\t%s\n", res.Degenerate)
	}
	fmt.Fprintf(tw, "TOOK\t%dms\n", res.ProcessingTimeMs)
	return tw.Flush()
}

func writeHistory(w io.Writer, resp *territory.HistoryResponse) error {
	if resp.Count == 0 {
		_, err := fmt.Fprintln(w, "No captures in range.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CAPTURED AT\tUSER\tTYPE\tCELLS\tCONFLICTS\tID")
	for _, r := range resp.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			formatTime(r.CapturedAt), r.User, r.PathType, len(r.ClaimedCells), len(r.Conflicts), r.ID)
	}
	return tw.Flush()
}

func writeCell(w io.Writer, info *cellInfo) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "CELL\t%s\n", info.Cell)
	fmt.Fprintf(tw, "RESOLUTION\t%d\n", info.Resolution)
	fmt.Fprintf(tw, "CENTER\t%.6f, %.6f\n", info.Center.Lat, info.Center.Lng)
	fmt.Fprintf(tw, "REGION\t%s\n", info.Region)
	fmt.Fprintf(tw, "REGION RESOLUTION\t%d\n", info.RegionResolution)
	fmt.Fprintf(tw, "EDGE\t%.6f deg\n", info.EdgeDegrees)
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
