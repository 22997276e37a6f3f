// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package config loads and validates picsync configuration from defaults,
// an optional YAML file, and environment variables (highest priority).
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// Run modes.
const (
	ModeChangeMonitor = "change_monitor"
	ModeBulkSync      = "bulk_sync"
	ModeFetchApps     = "fetch_apps"
)

// Heartbeat bounds; the upstream session keep-alive must stay inside these.
const (
	MinHeartbeatInterval = 60 * time.Second
	MaxHeartbeatInterval = 600 * time.Second
)

// MaxFetchBatchSize is the upstream's practical per-request app limit.
const MaxFetchBatchSize = 300

// Config is the immutable configuration snapshot for a picsync process.
type Config struct {
	Supabase SupabaseConfig `koanf:"supabase"`
	Steam    SteamConfig    `koanf:"steam"`
	Mode     string         `koanf:"mode" validate:"oneof=change_monitor bulk_sync fetch_apps"`
	Server   ServerConfig   `koanf:"server"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Bulk     BulkConfig     `koanf:"bulk"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Events   EventsConfig   `koanf:"events"`
	Logging  LoggingConfig  `koanf:"logging"`

	// TestApps are the appids fetched by the fetch_apps debug mode.
	TestApps []string `koanf:"test_apps"`
}

// SupabaseConfig holds the store credentials. The service talks to the
// project's PostgREST endpoint; the key is sent as both apikey and bearer.
type SupabaseConfig struct {
	URL        string `koanf:"url" validate:"required,url"`
	ServiceKey string `koanf:"service_key" validate:"required"`
}

// SteamConfig holds the upstream session settings.
type SteamConfig struct {
	// BridgeURL is the WebSocket endpoint of the PICS bridge sidecar.
	BridgeURL string `koanf:"bridge_url" validate:"required"`

	// Username and Password select credentialed login when both are set;
	// otherwise the session logs on anonymously.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// HeartbeatInterval is clamped to [60s, 600s] by Normalize.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// ServerConfig holds the health HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Host            string        `koanf:"host"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// FetchConfig tunes the batch fetcher used by the change monitor.
type FetchConfig struct {
	BatchSize    int           `koanf:"batch_size" validate:"min=1"`
	RequestDelay time.Duration `koanf:"request_delay"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries" validate:"min=0"`
}

// BulkConfig tunes the batch fetcher used by the bulk backfill.
type BulkConfig struct {
	BatchSize    int           `koanf:"batch_size" validate:"min=1"`
	RequestDelay time.Duration `koanf:"request_delay"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries" validate:"min=0"`
}

// MonitorConfig tunes the change monitor loop.
type MonitorConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	ProcessBatchSize int           `koanf:"process_batch_size" validate:"min=1"`
	MaxQueueSize     int           `koanf:"max_queue_size" validate:"min=1"`
}

// EventsConfig enables the optional NATS change publisher when NATSURL is set.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	JSON   bool   `koanf:"json"`
	Caller bool   `koanf:"caller"`
}

// Format returns the zerolog output format implied by the JSON flag.
func (l LoggingConfig) Format() string {
	if l.JSON {
		return "json"
	}
	return "console"
}

// TestAppIDs parses TestApps into appids, silently dropping invalid entries.
func (c *Config) TestAppIDs() []uint32 {
	ids := make([]uint32, 0, len(c.TestApps))
	for _, s := range c.TestApps {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	return ids
}

// Normalize clamps out-of-range values to their contract bounds.
// Called by Load after unmarshal, before Validate.
func (c *Config) Normalize() {
	if c.Steam.HeartbeatInterval < MinHeartbeatInterval {
		c.Steam.HeartbeatInterval = MinHeartbeatInterval
	}
	if c.Steam.HeartbeatInterval > MaxHeartbeatInterval {
		c.Steam.HeartbeatInterval = MaxHeartbeatInterval
	}
	if c.Fetch.BatchSize > MaxFetchBatchSize {
		c.Fetch.BatchSize = MaxFetchBatchSize
	}
	if c.Bulk.BatchSize > MaxFetchBatchSize {
		c.Bulk.BatchSize = MaxFetchBatchSize
	}
	c.Supabase.URL = strings.TrimRight(c.Supabase.URL, "/")
}

// validate is the shared validator instance; validator caches struct
// metadata, so a singleton avoids repeated reflection.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration, returning the first problem found.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: field %s failed %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Mode == ModeFetchApps && len(c.TestAppIDs()) == 0 {
		return fmt.Errorf("mode %s requires TEST_APPS with at least one valid appid", ModeFetchApps)
	}
	return nil
}

// ServiceKeyInfo is metadata decoded from the Supabase service key JWT.
// The signature is not verified; the secret belongs to the store.
type ServiceKeyInfo struct {
	Role       string
	ProjectRef string
	ExpiresAt  time.Time
}

// InspectServiceKey decodes the service key's claims for startup logging.
// Supabase keys carry role ("service_role" expected here), the project ref,
// and an expiry that operators want surfaced before it bites.
func InspectServiceKey(key string) (*ServiceKeyInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return nil, fmt.Errorf("service key is not a parseable JWT: %w", err)
	}

	info := &ServiceKeyInfo{}
	if v, ok := claims["role"].(string); ok {
		info.Role = v
	}
	if v, ok := claims["ref"].(string); ok {
		info.ProjectRef = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
