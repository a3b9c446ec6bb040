// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/territory/services/territory/notify"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "TERRITORY_"

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

// influx returns the influx section, creating it on first use.
func influx(c *Config) *notify.InfluxConfig {
	if c.Notify.Influx == nil {
		c.Notify.Influx = &notify.InfluxConfig{}
	}
	return c.Notify.Influx
}

// envVars lists the supported overrides, without EnvPrefix.
var envVars = []envVar{
	{"ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"GIN_MODE", str(func(c *Config) *string { return &c.Server.GinMode })},
	{"RESOLUTION", integer(func(c *Config) *int { return &c.Grid.Resolution })},
	{"REGION_RESOLUTION", integer(func(c *Config) *int { return &c.Grid.RegionResolution })},
	{"MAX_POINTS", integer(func(c *Config) *int { return &c.Capture.MaxPoints })},
	{"MAX_CLAIMED_CELLS", integer(func(c *Config) *int { return &c.Capture.MaxClaimedCells })},
	{"MIN_LOOP_SIZE", integer(func(c *Config) *int { return &c.Capture.MinLoopSize })},
	{"CONFLICT_RETRIES", integer(func(c *Config) *int { return &c.Capture.ConflictRetries })},
	{"DATA_DIR", str(func(c *Config) *string { return &c.Storage.Path })},
	{"IN_MEMORY", boolean(func(c *Config) *bool { return &c.Storage.InMemory })},
	{"GC_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Storage.GCInterval })},
	{"HISTORY_PATH", str(func(c *Config) *string { return &c.History.Path })},
	{"VIEWPORT_ENUMERATOR", str(func(c *Config) *string { return &c.Viewport.Enumerator })},
	{"RATELIMIT_ENABLED", boolean(func(c *Config) *bool { return &c.RateLimit.Enabled })},
	{"RATELIMIT_PER_SECOND", float(func(c *Config) *float64 { return &c.RateLimit.PerSecond })},
	{"RATELIMIT_BURST", integer(func(c *Config) *int { return &c.RateLimit.Burst })},
	{"INFLUX_URL", str(func(c *Config) *string { return &influx(c).URL })},
	{"INFLUX_TOKEN", str(func(c *Config) *string { return &influx(c).Token })},
	{"INFLUX_ORG", str(func(c *Config) *string { return &influx(c).Org })},
	{"INFLUX_BUCKET", str(func(c *Config) *string { return &influx(c).Bucket })},
	{"TRACE_EXPORTER", str(func(c *Config) *string { return &c.Telemetry.TraceExporter })},
	{"METRIC_EXPORTER", str(func(c *Config) *string { return &c.Telemetry.MetricExporter })},
	{"OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
	{"ENV", str(func(c *Config) *string { return &c.Telemetry.Environment })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
	{"LOG_DIR", str(func(c *Config) *string { return &c.Logging.LogDir })},
	{"BACKUP_DIR", str(func(c *Config) *string { return &c.Backup.Dir })},
	{"BACKUP_GCS_BUCKET", str(func(c *Config) *string { return &c.Backup.GCSBucket })},
	{"BACKUP_CREDENTIALS_FILE", str(func(c *Config) *string { return &c.Backup.CredentialsFile })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s%s=%q: %w", EnvPrefix, ev.name, v, err)
		}
	}
	return nil
}
