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

// Config covers process level configuration read from environment variables
// and, optionally, a YAML file named by SNAPMETA_CONFIG_FILE. Environment
// values always win over file values.
type Config struct {
	Environment string
	LogLevel    string
	HTTPBind    string
	HTTPPort    int
	WSPort      int

	// WSOriginPatterns are the browser origins allowed to open display
	// websockets; "*" admits any origin.
	WSOriginPatterns []string

	// ExternalHost is the host name display clients use to reach artwork URLs.
	ExternalHost string

	SnapserverHost string
	SnapserverPort int

	MPDHost     string
	MPDPort     int
	MPDStreamID string // Snapcast stream id fed by the local MPD

	ArtworkDir  string
	DefaultsDir string

	PollInterval   time.Duration
	CacheSize      int
	WorkerPoolSize int
	UserAgent      string

	// Shared resolver cache (disabled when RedisAddr is empty)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SharedCacheTTL time.Duration

	// Now-playing fan-out over NATS (disabled when NATSURL is empty)
	NATSURL     string
	NATSSubject string

	// Artwork mirror (disabled when S3Bucket is empty)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string
	S3Prefix          string
	S3UsePathStyle    bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	MetricsEnabled bool

	LegacyEnvWarnings []string
}

// fileConfig mirrors the YAML layout accepted by SNAPMETA_CONFIG_FILE.
type fileConfig struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	HTTP        struct {
		Bind         string   `yaml:"bind"`
		Port         int      `yaml:"port"`
		WSPort       int      `yaml:"ws_port"`
		WSOrigins    []string `yaml:"ws_origins"`
		ExternalHost string   `yaml:"external_host"`
	} `yaml:"http"`
	Snapserver struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"snapserver"`
	MPD struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		StreamID string `yaml:"stream_id"`
	} `yaml:"mpd"`
	Paths struct {
		Artwork  string `yaml:"artwork"`
		Defaults string `yaml:"defaults"`
	} `yaml:"paths"`
	Poll struct {
		Interval  string `yaml:"interval"`
		Workers   int    `yaml:"workers"`
		CacheSize int    `yaml:"cache_size"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"poll"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	S3 struct {
		Bucket       string `yaml:"bucket"`
		Region       string `yaml:"region"`
		Endpoint     string `yaml:"endpoint"`
		Prefix       string `yaml:"prefix"`
		UsePathStyle bool   `yaml:"use_path_style"`
	} `yaml:"s3"`
	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		Endpoint   string  `yaml:"endpoint"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Load reads the optional config file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	var fc fileConfig
	if path := getEnvAny([]string{"SNAPMETA_CONFIG_FILE"}, ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"SNAPMETA_ENV"}, orString(fc.Environment, "production")),
		LogLevel:    getEnvAny([]string{"SNAPMETA_LOG_LEVEL"}, fc.LogLevel),
		HTTPBind:    getEnvAny([]string{"SNAPMETA_HTTP_BIND"}, orString(fc.HTTP.Bind, "0.0.0.0")),
		HTTPPort:    getEnvIntAny([]string{"SNAPMETA_HTTP_PORT", "METADATA_HTTP_PORT"}, orInt(fc.HTTP.Port, 8083)),
		WSPort:      getEnvIntAny([]string{"SNAPMETA_WS_PORT", "METADATA_WS_PORT"}, orInt(fc.HTTP.WSPort, 8082)),

		WSOriginPatterns: getEnvListAny([]string{"SNAPMETA_WS_ORIGINS"}, orList(fc.HTTP.WSOrigins, []string{"*"})),

		SnapserverHost: getEnvAny([]string{"SNAPMETA_SNAPSERVER_HOST", "SNAPSERVER_HOST"}, orString(fc.Snapserver.Host, "127.0.0.1")),
		SnapserverPort: getEnvIntAny([]string{"SNAPMETA_SNAPSERVER_PORT", "SNAPSERVER_RPC_PORT"}, orInt(fc.Snapserver.Port, 1705)),

		MPDHost:     getEnvAny([]string{"SNAPMETA_MPD_HOST", "MPD_HOST"}, orString(fc.MPD.Host, "127.0.0.1")),
		MPDPort:     getEnvIntAny([]string{"SNAPMETA_MPD_PORT", "MPD_PORT"}, orInt(fc.MPD.Port, 6600)),
		MPDStreamID: getEnvAny([]string{"SNAPMETA_MPD_STREAM_ID"}, orString(fc.MPD.StreamID, "MPD")),

		ArtworkDir:  getEnvAny([]string{"SNAPMETA_ARTWORK_DIR", "ARTWORK_DIR"}, orString(fc.Paths.Artwork, "/app/artwork")),
		DefaultsDir: getEnvAny([]string{"SNAPMETA_DEFAULTS_DIR", "DEFAULTS_DIR"}, orString(fc.Paths.Defaults, "/app/defaults")),

		PollInterval:   getEnvDurationAny([]string{"SNAPMETA_POLL_INTERVAL"}, orDuration(fc.Poll.Interval, 2*time.Second)),
		CacheSize:      getEnvIntAny([]string{"SNAPMETA_CACHE_SIZE"}, orInt(fc.Poll.CacheSize, 500)),
		WorkerPoolSize: getEnvIntAny([]string{"SNAPMETA_WORKERS"}, orInt(fc.Poll.Workers, 8)),
		UserAgent:      getEnvAny([]string{"SNAPMETA_USER_AGENT"}, orString(fc.Poll.UserAgent, "snapMULTI-MetadataService/1.0")),

		RedisAddr:      getEnvAny([]string{"SNAPMETA_REDIS_ADDR"}, fc.Redis.Addr),
		RedisPassword:  getEnvAny([]string{"SNAPMETA_REDIS_PASSWORD"}, fc.Redis.Password),
		RedisDB:        getEnvIntAny([]string{"SNAPMETA_REDIS_DB"}, fc.Redis.DB),
		SharedCacheTTL: getEnvDurationAny([]string{"SNAPMETA_SHARED_CACHE_TTL"}, orDuration(fc.Redis.TTL, 24*time.Hour)),

		NATSURL:     getEnvAny([]string{"SNAPMETA_NATS_URL", "NATS_URL"}, fc.NATS.URL),
		NATSSubject: getEnvAny([]string{"SNAPMETA_NATS_SUBJECT"}, orString(fc.NATS.Subject, "snapmeta.nowplaying")),

		S3AccessKeyID:     getEnvAny([]string{"SNAPMETA_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"SNAPMETA_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"SNAPMETA_S3_REGION", "AWS_REGION"}, orString(fc.S3.Region, "us-east-1")),
		S3Bucket:          getEnvAny([]string{"SNAPMETA_S3_BUCKET", "S3_BUCKET"}, fc.S3.Bucket),
		S3Endpoint:        getEnvAny([]string{"SNAPMETA_S3_ENDPOINT", "S3_ENDPOINT"}, fc.S3.Endpoint),
		S3Prefix:          getEnvAny([]string{"SNAPMETA_S3_PREFIX"}, orString(fc.S3.Prefix, "artwork")),
		S3UsePathStyle:    getEnvBoolAny([]string{"SNAPMETA_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, fc.S3.UsePathStyle),

		TracingEnabled:    getEnvBoolAny([]string{"SNAPMETA_TRACING_ENABLED"}, fc.Tracing.Enabled),
		OTLPEndpoint:      getEnvAny([]string{"SNAPMETA_OTLP_ENDPOINT"}, orString(fc.Tracing.Endpoint, "localhost:4317")),
		TracingSampleRate: getEnvFloatAny([]string{"SNAPMETA_TRACING_SAMPLE_RATE"}, orFloat(fc.Tracing.SampleRate, 1.0)),

		MetricsEnabled: getEnvBoolAny([]string{"SNAPMETA_METRICS_ENABLED"}, true),
	}

	cfg.ExternalHost = getEnvAny([]string{"SNAPMETA_EXTERNAL_HOST", "EXTERNAL_HOST"}, fc.HTTP.ExternalHost)
	if cfg.ExternalHost == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.ExternalHost = host
		} else {
			cfg.ExternalHost = cfg.SnapserverHost
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	ports := map[string]int{
		"http port":       c.HTTPPort,
		"websocket port":  c.WSPort,
		"snapserver port": c.SnapserverPort,
		"mpd port":        c.MPDPort,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	if c.HTTPPort == c.WSPort {
		return fmt.Errorf("http and websocket ports must differ (both %d)", c.HTTPPort)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be within [0,1], got %v", c.TracingSampleRate)
	}
	if c.ArtworkDir == "" {
		return fmt.Errorf("SNAPMETA_ARTWORK_DIR or ARTWORK_DIR must be provided")
	}
	return nil
}

// ArtworkURL returns the client-facing URL for a file in the artwork directory.
func (c *Config) ArtworkURL(filename string) string {
	if filename == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d/artwork/%s", c.ExternalHost, c.HTTPPort, filename)
}

// DefaultAssetURL returns the client-facing URL for a bundled default asset.
func (c *Config) DefaultAssetURL(filename string) string {
	return fmt.Sprintf("http://%s:%d/defaults/%s", c.ExternalHost, c.HTTPPort, filename)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use SNAPMETA_ENV",
		"LOG_LEVEL":           "use SNAPMETA_LOG_LEVEL",
		"TRACING_ENABLED":     "use SNAPMETA_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use SNAPMETA_OTLP_ENDPOINT",
		"METADATA_CACHE_SIZE": "use SNAPMETA_CACHE_SIZE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orList(v, def []string) []string {
	if len(v) > 0 {
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

func orDuration(v string, def time.Duration) time.Duration {
	if d, ok := parseDuration(v); ok {
		return d
	}
	return def
}

// parseDuration accepts Go duration strings and bare integers (seconds).
func parseDuration(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
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

// getEnvListAny reads a comma-separated list, dropping empty items.
func getEnvListAny(keys []string, def []string) []string {
	raw := getEnvAny(keys, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
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

// getEnvDurationAny returns the first parseable duration from keys, or def.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if d, ok := parseDuration(os.Getenv(k)); ok {
			return d
		}
	}
	return def
}
