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
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/territory/pkg/logging"
	"github.com/AleutianAI/territory/services/territory"
	"github.com/AleutianAI/territory/services/territory/backup"
	"github.com/AleutianAI/territory/services/territory/config"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/history"
)

// cellInfo describes the cell containing a coordinate.
type cellInfo struct {
	Cell             grid.Cell     `json:"cell"`
	Resolution       int           `json:"resolution"`
	Center           grid.LatLng   `json:"center"`
	Region           grid.Cell     `json:"region"`
	RegionResolution int           `json:"regionResolution"`
	EdgeDegrees      float64       `json:"edgeDegrees"`
	Boundary         []grid.LatLng `json:"boundary"`
}

func lookupCell(lat, lng float64, res, regionRes int) (*cellInfo, error) {
	ll := grid.LatLng{Lat: lat, Lng: lng}
	if !ll.IsValid() {
		return nil, fmt.Errorf("coordinate out of range: %v, %v", lat, lng)
	}
	ix, err := grid.NewIndex(res, regionRes)
	if err != nil {
		return nil, err
	}
	c := ix.CellForPoint(lat, lng)
	return &cellInfo{
		Cell:             c,
		Resolution:       ix.Resolution(),
		Center:           grid.Center(c),
		Region:           ix.RegionOf(c),
		RegionResolution: ix.RegionResolution(),
		EdgeDegrees:      grid.EdgeLength(ix.Resolution()),
		Boundary:         grid.Boundary(c),
	}, nil
}

func runCell(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("longitude: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res := cfg.Grid.Resolution
	if cellResolution != 0 {
		res = cellResolution
	}
	info, err := lookupCell(lat, lng, res, cfg.Grid.RegionResolution)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), info, func(w io.Writer) error { return writeCell(w, info) })
}

// openDestination picks GCS when a bucket is configured, otherwise the
// local backup directory. release frees the GCS client.
func openDestination(cmd *cobra.Command, cfg *config.Config) (dst backup.Destination, release func() error, err error) {
	if cfg.Backup.GCSBucket != "" {
		g, err := backup.NewGCS(cmd.Context(), cfg.Backup.GCSBucket, cfg.Backup.GCSPrefix, cfg.Backup.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
	d, err := backup.NewDir(cfg.Backup.Dir)
	if err != nil {
		return nil, nil, err
	}
	return d, func() error { return nil }, nil
}

func offlineLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	logs, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return logs.Slog(), logs.Close, nil
}

func runBackup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := offlineLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	dst, closeDst, err := openDestination(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeDst()

	db, err := territory.OpenStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("%w (is the server still running?)", err)
	}
	defer db.Close()

	var hist backup.HistorySnapshotter
	if cfg.History.Path != ":memory:" {
		store, err := history.OpenSQLite(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		hist = store
	}

	m, err := backup.Backup(cmd.Context(), db, hist, dst, backup.Name(time.Now()), logger)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), m, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "Wrote %s (%d bytes, version %d)\n", m.Location, m.Bytes, m.Version); err != nil {
			return err
		}
		if m.HistoryLocation == "" {
			return nil
		}
		_, err := fmt.Fprintf(w, "Wrote %s (%d bytes)\n", m.HistoryLocation, m.HistoryBytes)
		return err
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := offlineLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	src, closeSrc, err := openDestination(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	db, err := territory.OpenStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("%w (is the server still running?)", err)
	}
	defer db.Close()

	historyPath := cfg.History.Path
	if historyPath == ":memory:" {
		historyPath = ""
	}
	if err := backup.Restore(cmd.Context(), db, historyPath, src, args[0], logger); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", src.Location(args[0]))
	return err
}
