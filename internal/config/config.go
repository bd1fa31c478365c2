/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Output selects the transmission mechanism used by the playback executor.
type Output string

const (
	OutputFM      Output = "fm"
	OutputSpeaker Output = "speaker"
)

// EventMirror selects where broadcast messages are mirrored for external consumers.
type EventMirror string

const (
	EventMirrorNone  EventMirror = "none"
	EventMirrorRedis EventMirror = "redis"
	EventMirrorNATS  EventMirror = "nats"
)

// Valid FM broadcast band in MHz.
const (
	MinFrequency = 76.0
	MaxFrequency = 108.0
)

// Config covers process level configuration read from environment variables
// and an optional YAML file.
type Config struct {
	Environment string          `yaml:"environment"`
	HTTPBind    string          `yaml:"http_bind"`
	HTTPPort    int             `yaml:"http_port"`
	DBBackend   DatabaseBackend `yaml:"db_backend"`
	DBDSN       string          `yaml:"db_dsn"`

	// Media acquisition
	SongsDir     string `yaml:"songs_dir"`
	FetcherBin   string `yaml:"fetcher_bin"`
	FetchWorkers int    `yaml:"fetch_workers"`

	// Playback
	Output                 Output  `yaml:"output"`
	TransmitterBin         string  `yaml:"transmitter_bin"`
	Frequency              float64 `yaml:"frequency"`
	RandomIncludeSensitive bool    `yaml:"random_include_sensitive"`

	// Websocket heartbeat
	WSPingInterval  time.Duration `yaml:"-"`
	WSClientTimeout time.Duration `yaml:"-"`

	// Redis (lookup cache and event mirror)
	RedisAddr     string      `yaml:"redis_addr"`
	RedisPassword string      `yaml:"redis_password"`
	RedisDB       int         `yaml:"redis_db"`
	CacheEnabled  bool        `yaml:"cache_enabled"`
	EventMirror   EventMirror `yaml:"event_mirror"`
	NATSURL       string      `yaml:"nats_url"`

	// S3 mirror for downloaded songs
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	InstanceID string `yaml:"instance_id"`

	// LegacyEnvWarnings lists deprecated env keys detected at load time.
	LegacyEnvWarnings []string `yaml:"-"`
}

// fileDefaults holds values read from HOMEFM_CONFIG_FILE. Environment variables win.
type fileDefaults struct {
	Config                 `yaml:",inline"`
	WSPingIntervalSeconds  int `yaml:"ws_ping_interval_seconds"`
	WSClientTimeoutSeconds int `yaml:"ws_client_timeout_seconds"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	defaults, err := loadFile(getEnvAny([]string{"HOMEFM_CONFIG_FILE", "FM_CONFIG_FILE"}, ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"HOMEFM_ENV", "FM_ENV"}, or(defaults.Environment, "development")),
		HTTPBind:    getEnvAny([]string{"HOMEFM_HTTP_BIND", "FM_HTTP_BIND"}, or(defaults.HTTPBind, "0.0.0.0")),
		HTTPPort:    getEnvIntAny([]string{"HOMEFM_HTTP_PORT", "FM_HTTP_PORT"}, orInt(defaults.HTTPPort, 8080)),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"HOMEFM_DB_BACKEND", "FM_DB_BACKEND"}, or(string(defaults.DBBackend), string(DatabaseSQLite)))),
		DBDSN:       getEnvAny([]string{"HOMEFM_DB_DSN", "FM_DB_DSN", "DATABASE_URL"}, or(defaults.DBDSN, "homefm.db")),

		SongsDir:     getEnvAny([]string{"HOMEFM_SONGS_DIR", "FM_SONGS_DIR"}, or(defaults.SongsDir, "static/songs")),
		FetcherBin:   getEnvAny([]string{"HOMEFM_FETCHER_BIN", "FM_FETCHER_BIN"}, or(defaults.FetcherBin, "yt-dlp")),
		FetchWorkers: getEnvIntAny([]string{"HOMEFM_FETCH_WORKERS", "FM_FETCH_WORKERS"}, orInt(defaults.FetchWorkers, 2)),

		Output:                 Output(getEnvAny([]string{"HOMEFM_OUTPUT", "FM_OUTPUT"}, or(string(defaults.Output), string(OutputFM)))),
		TransmitterBin:         getEnvAny([]string{"HOMEFM_TRANSMITTER_BIN", "FM_TRANSMITTER_BIN"}, or(defaults.TransmitterBin, "fm_transmitter")),
		Frequency:              getEnvFloatAny([]string{"HOMEFM_FREQUENCY", "FM_FREQUENCY"}, orFloat(defaults.Frequency, 100.0)),
		RandomIncludeSensitive: getEnvBoolAny([]string{"HOMEFM_RANDOM_INCLUDE_SENSITIVE"}, defaults.RandomIncludeSensitive),

		WSPingInterval:  time.Duration(getEnvIntAny([]string{"HOMEFM_WS_PING_INTERVAL_SECONDS"}, orInt(defaults.WSPingIntervalSeconds, 5))) * time.Second,
		WSClientTimeout: time.Duration(getEnvIntAny([]string{"HOMEFM_WS_CLIENT_TIMEOUT_SECONDS"}, orInt(defaults.WSClientTimeoutSeconds, 10))) * time.Second,

		RedisAddr:     getEnvAny([]string{"HOMEFM_REDIS_ADDR", "FM_REDIS_ADDR"}, or(defaults.RedisAddr, "localhost:6379")),
		RedisPassword: getEnvAny([]string{"HOMEFM_REDIS_PASSWORD", "FM_REDIS_PASSWORD"}, defaults.RedisPassword),
		RedisDB:       getEnvIntAny([]string{"HOMEFM_REDIS_DB", "FM_REDIS_DB"}, defaults.RedisDB),
		CacheEnabled:  getEnvBoolAny([]string{"HOMEFM_CACHE_ENABLED"}, defaults.CacheEnabled),
		EventMirror:   EventMirror(getEnvAny([]string{"HOMEFM_EVENT_MIRROR"}, or(string(defaults.EventMirror), string(EventMirrorNone)))),
		NATSURL:       getEnvAny([]string{"HOMEFM_NATS_URL", "NATS_URL"}, or(defaults.NATSURL, "nats://127.0.0.1:4222")),

		S3AccessKeyID:     getEnvAny([]string{"HOMEFM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, defaults.S3AccessKeyID),
		S3SecretAccessKey: getEnvAny([]string{"HOMEFM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, defaults.S3SecretAccessKey),
		S3Region:          getEnvAny([]string{"HOMEFM_S3_REGION", "AWS_REGION"}, or(defaults.S3Region, "us-east-1")),
		S3Bucket:          getEnvAny([]string{"HOMEFM_S3_BUCKET", "S3_BUCKET"}, defaults.S3Bucket),
		S3Endpoint:        getEnvAny([]string{"HOMEFM_S3_ENDPOINT", "S3_ENDPOINT"}, defaults.S3Endpoint),
		S3UsePathStyle:    getEnvBoolAny([]string{"HOMEFM_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, defaults.S3UsePathStyle),

		TracingEnabled:    getEnvBoolAny([]string{"HOMEFM_TRACING_ENABLED", "FM_TRACING_ENABLED"}, defaults.TracingEnabled),
		OTLPEndpoint:      getEnvAny([]string{"HOMEFM_OTLP_ENDPOINT", "FM_OTLP_ENDPOINT"}, or(defaults.OTLPEndpoint, "localhost:4317")),
		TracingSampleRate: getEnvFloatAny([]string{"HOMEFM_TRACING_SAMPLE_RATE", "FM_TRACING_SAMPLE_RATE"}, orFloat(defaults.TracingSampleRate, 1.0)),

		InstanceID: getEnvAny([]string{"HOMEFM_INSTANCE_ID"}, defaults.InstanceID),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("HOMEFM_DB_DSN must be provided")
	}
	if err := ValidateFrequency(c.Frequency); err != nil {
		return err
	}
	if c.FetchWorkers < 1 {
		return fmt.Errorf("HOMEFM_FETCH_WORKERS must be at least 1, got %d", c.FetchWorkers)
	}
	if c.Output != OutputFM && c.Output != OutputSpeaker {
		return fmt.Errorf("unsupported output %q", c.Output)
	}
	switch c.EventMirror {
	case EventMirrorNone, EventMirrorRedis, EventMirrorNATS:
	default:
		return fmt.Errorf("unsupported event mirror %q", c.EventMirror)
	}
	if c.WSPingInterval <= 0 || c.WSClientTimeout <= 0 {
		return fmt.Errorf("websocket heartbeat intervals must be positive")
	}
	return nil
}

// ValidateFrequency reports whether f (MHz) lies within the FM broadcast band.
func ValidateFrequency(f float64) error {
	if f < MinFrequency || f > MaxFrequency {
		return fmt.Errorf("frequency %.1f MHz outside %.1f-%.1f", f, MinFrequency, MaxFrequency)
	}
	return nil
}

func loadFile(path string) (fileDefaults, error) {
	var defaults fileDefaults
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return defaults, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"FM_ENV":           "use HOMEFM_ENV",
		"FM_DB_DSN":        "use HOMEFM_DB_DSN",
		"DATABASE_URL":     "use HOMEFM_DB_DSN",
		"FM_FREQUENCY":     "use HOMEFM_FREQUENCY",
		"FM_SONGS_DIR":     "use HOMEFM_SONGS_DIR",
		"FM_OUTPUT":        "use HOMEFM_OUTPUT",
		"FM_FETCHER_BIN":   "use HOMEFM_FETCHER_BIN",
		"FM_HTTP_PORT":     "use HOMEFM_HTTP_PORT",
		"FM_REDIS_ADDR":    "use HOMEFM_REDIS_ADDR",
		"FM_OTLP_ENDPOINT": "use HOMEFM_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
