// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the territory service configuration.
//
// Values come from the embedded defaults, then an optional YAML file, then
// TERRITORY_* environment variables. The result is validated before use.
//
// Thread Safety:
//
//	A loaded Config is a plain value. Watcher hands each reload to its
//	callback as a fresh Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/territory/pkg/logging"
	"github.com/AleutianAI/territory/services/territory/notify"
	"github.com/AleutianAI/territory/services/territory/telemetry"
)

// MaxFileSize caps the config file read from disk.
const MaxFileSize = 1024 * 1024

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Grid      GridConfig       `yaml:"grid"`
	Capture   CaptureConfig    `yaml:"capture"`
	Storage   StorageConfig    `yaml:"storage"`
	History   HistoryConfig    `yaml:"history"`
	Viewport  ViewportConfig   `yaml:"viewport"`
	RateLimit RateLimitConfig  `yaml:"ratelimit"`
	Notify    NotifyConfig     `yaml:"notify"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   logging.Config   `yaml:"logging"`
	Backup    BackupConfig     `yaml:"backup"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	GinMode         string        `yaml:"gin_mode" validate:"oneof=debug release test"`
}

// GridConfig sets the claim and region resolutions.
type GridConfig struct {
	Resolution       int `yaml:"resolution" validate:"gte=1,lte=15"`
	RegionResolution int `yaml:"region_resolution" validate:"gte=0,ltfield=Resolution"`
}

// CaptureConfig tunes classification and region fan-out.
type CaptureConfig struct {
	MaxPoints       int           `yaml:"max_points" validate:"gte=1,lte=100000"`
	MinLoopSize     int           `yaml:"min_loop_size" validate:"gte=1,lte=10000"`
	MaxClaimedCells int           `yaml:"max_claimed_cells" validate:"gte=1,lte=1048576"`
	RegionWorkers   int           `yaml:"region_workers" validate:"gte=1,lte=256"`
	ConflictRetries int           `yaml:"conflict_retries" validate:"gte=0,lte=100"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" validate:"gte=0"`
}

// StorageConfig configures the Badger database.
type StorageConfig struct {
	Path            string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory        bool          `yaml:"in_memory"`
	SyncWrites      bool          `yaml:"sync_writes"`
	ConflictRetries int           `yaml:"conflict_retries" validate:"gte=0"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	GCInterval      time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio  float64       `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// HistoryConfig locates the SQLite history database. ":memory:" keeps it in
// process.
type HistoryConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ViewportConfig selects the region enumerator.
type ViewportConfig struct {
	Enumerator     string `yaml:"enumerator" validate:"oneof=lattice covering"`
	LatticeSamples int    `yaml:"lattice_samples" validate:"gte=2,lte=64"`
	CoveringLimit  int    `yaml:"covering_limit" validate:"gte=1"`
}

// RateLimitConfig sets per-user submission limits.
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled"`
	PerSecond float64       `yaml:"per_second" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
	IdleTTL   time.Duration `yaml:"idle_ttl" validate:"gte=0"`
}

// NotifyConfig configures realtime delivery. Influx is optional.
type NotifyConfig struct {
	Websocket notify.HubConfig     `yaml:"websocket"`
	Influx    *notify.InfluxConfig `yaml:"influx"`
}

// BackupConfig sets backup destinations. GCSBucket empty keeps backups
// local.
type BackupConfig struct {
	Dir             string `yaml:"dir"`
	GCSBucket       string `yaml:"gcs_bucket"`
	GCSPrefix       string `yaml:"gcs_prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load builds the configuration from defaults, the file at path (optional),
// and the process environment.
//
// Outputs:
//
//	*Config - Validated configuration with ~ expanded in paths.
//	error - File, parse, environment, or ErrInvalidConfig errors.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config %s is %d bytes, maximum is %d", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return data, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RateLimit.Enabled && c.RateLimit.PerSecond == 0 {
		return fmt.Errorf("%w: ratelimit.per_second must be positive when enabled", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Storage.Path = expandHome(c.Storage.Path)
	if c.History.Path != ":memory:" {
		c.History.Path = expandHome(c.History.Path)
	}
	c.Backup.Dir = expandHome(c.Backup.Dir)
	c.Backup.CredentialsFile = expandHome(c.Backup.CredentialsFile)
	c.Logging.LogDir = expandHome(c.Logging.LogDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
