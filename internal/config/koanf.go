// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/picsync/config.yaml",
	"/etc/picsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Supabase: SupabaseConfig{
			URL:        "",
			ServiceKey: "",
		},
		Steam: SteamConfig{
			BridgeURL:         "ws://localhost:8181/ws",
			Username:          "",
			Password:          "",
			HeartbeatInterval: 300 * time.Second,
		},
		Mode: ModeChangeMonitor,
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Fetch: FetchConfig{
			BatchSize:    200,
			RequestDelay: 500 * time.Millisecond,
			Timeout:      60 * time.Second,
			MaxRetries:   5,
		},
		Bulk: BulkConfig{
			BatchSize:    200,
			RequestDelay: 500 * time.Millisecond,
			Timeout:      60 * time.Second,
			MaxRetries:   5,
		},
		Monitor: MonitorConfig{
			PollInterval:     30 * time.Second,
			ProcessBatchSize: 100,
			MaxQueueSize:     10000,
		},
		Events: EventsConfig{
			NATSURL: "",
			Subject: "picsync.changes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			JSON:   true,
			Caller: false,
		},
		TestApps: nil,
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults from struct
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
//
// The result is normalized (clamps applied) and validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env values arrive as strings; fix up slices and bare-second durations
	// before unmarshal.
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processDurationFields(k); err != nil {
		return nil, fmt.Errorf("failed to process duration fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env strings into slices.
var sliceConfigPaths = []string{
	"test_apps",
}

// processSliceFields converts comma-separated string values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// durationConfigPaths hold time.Duration fields that accept either Go
// duration strings ("30s") or bare numbers meaning seconds ("30", "0.5"),
// matching the deployment's historical float-second variables.
var durationConfigPaths = []string{
	"steam.heartbeat_interval",
	"server.shutdown_timeout",
	"fetch.request_delay",
	"fetch.timeout",
	"bulk.request_delay",
	"bulk.timeout",
	"monitor.poll_interval",
}

// processDurationFields rewrites bare-numeric duration values as seconds.
func processDurationFields(k *koanf.Koanf) error {
	for _, path := range durationConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		secs, err := strconv.ParseFloat(strVal, 64)
		if err != nil {
			// Not a bare number; leave it for the duration decode hook.
			continue
		}
		d := time.Duration(secs * float64(time.Second))
		if err := k.Set(path, d.String()); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so unrelated environment
// noise cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Store credentials
		"supabase_url":         "supabase.url",
		"supabase_service_key": "supabase.service_key",

		// Run mode
		"mode": "mode",

		// Health HTTP server
		"port":             "server.port",
		"host":             "server.host",
		"shutdown_timeout": "server.shutdown_timeout",

		// Upstream session
		"steam_bridge_url":   "steam.bridge_url",
		"steam_username":     "steam.username",
		"steam_password":     "steam.password",
		"heartbeat_interval": "steam.heartbeat_interval",

		// Change-monitor fetcher
		"batch_size":    "fetch.batch_size",
		"request_delay": "fetch.request_delay",
		"fetch_timeout": "fetch.timeout",
		"max_retries":   "fetch.max_retries",

		// Bulk backfill fetcher
		"bulk_batch_size":    "bulk.batch_size",
		"bulk_request_delay": "bulk.request_delay",
		"bulk_timeout":       "bulk.timeout",
		"bulk_max_retries":   "bulk.max_retries",

		// Change monitor loop
		"poll_interval":      "monitor.poll_interval",
		"process_batch_size": "monitor.process_batch_size",
		"max_queue_size":     "monitor.max_queue_size",

		// Change event publishing
		"nats_url":     "events.nats_url",
		"nats_subject": "events.subject",

		// Debug fetch mode
		"test_apps": "test_apps",

		// Logging
		"log_level":  "logging.level",
		"log_json":   "logging.json",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
