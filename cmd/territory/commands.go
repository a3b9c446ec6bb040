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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/territory/services/territory/config"
)

var (
	configPath string
	serverURL  string
	jsonOutput bool
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "territory",
		Short: "Hex-grid territory capture engine",
		Long: `territory turns GPS paths into claimed hexagonal cells, keeps
per-region ownership and user stats, and streams captures to clients.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	// --- Client commands, talk to a running server ---
	submitCmd = &cobra.Command{
		Use:   "submit [points.json]",
		Short: "Submit a path from a JSON file (or stdin), or a single point with --lat/--lng",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubmit,
	}
	statsCmd = &cobra.Command{
		Use:   "stats [user]",
		Short: "Show a user's stats",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	regionsCmd = &cobra.Command{
		Use:   "regions [user]",
		Short: "Show a user's standing in each active region",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegions,
	}
	leaderboardCmd = &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show users ranked by cells held",
		Aliases: []string{"lb"},
		Args:    cobra.NoArgs,
		RunE:    runLeaderboard,
	}
	historyCmd = &cobra.Command{
		Use:   "history [user]",
		Short: "List recent captures, for one user or everyone",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	// --- Local commands ---
	cellCmd = &cobra.Command{
		Use:   "cell [lat] [lng]",
		Short: "Show the cell and region containing a coordinate",
		Args:  cobra.ExactArgs(2),
		RunE:  runCell,
	}
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the region, stats and history databases to a directory or GCS",
		Args:  cobra.NoArgs,
		RunE:  runBackup,
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [name]",
		Short: "Load a snapshot into the databases. The server must be stopped.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}
)

var (
	submitUser   string
	submitColor  string
	submitLat    float64
	submitLng    float64
	submitMethod string
	submitClose  bool

	lbLimit  int
	lbOffset int

	historySince time.Duration
	historyLimit int

	cellResolution int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (env TERRITORY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of a running server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON even on a terminal")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	submitCmd.Flags().StringVarP(&submitUser, "user", "u", "", "User claiming the cells")
	submitCmd.Flags().StringVar(&submitColor, "color", "", "Display color, e.g. #ff0000")
	submitCmd.Flags().Float64Var(&submitLat, "lat", 0, "Latitude of a single capture")
	submitCmd.Flags().Float64Var(&submitLng, "lng", 0, "Longitude of a single capture")
	submitCmd.Flags().StringVar(&submitMethod, "method", "", "Recorded method of a single capture: click, line or loop")
	submitCmd.Flags().BoolVar(&submitClose, "auto-close", true, "Detect closed loops")
	_ = submitCmd.MarkFlagRequired("user")

	leaderboardCmd.Flags().IntVarP(&lbLimit, "limit", "n", 0, "Entries to show (default 10, max 100)")
	leaderboardCmd.Flags().IntVar(&lbOffset, "offset", 0, "Entries to skip")

	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only captures newer than this, e.g. 24h")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Records to show (default 50, max 500)")

	cellCmd.Flags().IntVarP(&cellResolution, "resolution", "r", 0, "Cell resolution (default from config)")

	rootCmd.AddCommand(serveCmd, submitCmd, statsCmd, regionsCmd, leaderboardCmd, historyCmd, cellCmd, backupCmd, restoreCmd)
}

// configFile resolves --config, falling back to TERRITORY_CONFIG.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("TERRITORY_CONFIG")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
