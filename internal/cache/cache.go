/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides the bounded in-process lookup caches and an optional
// Redis tier that lets resolver results survive restarts and be shared
// between instances.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSharedTTL keeps shared resolver results for a day.
const DefaultSharedTTL = 24 * time.Hour

// Key prefixes for the shared tier.
const (
	KeyPrefix      = "snapmeta:cache:"
	KindAlbumArt   = "album_art"
	KindRadioLogo  = "radio_logo"
	KindArtistIcon = "artist_image"
)

// Config contains shared cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// DisableOnError turns the tier off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default shared cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TTL:            DefaultSharedTTL,
		DisableOnError: true,
	}
}

// Shared is a Redis-backed string cache with a circuit breaker. A disabled
// Shared behaves as an always-missing cache.
type Shared struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// NewShared connects to Redis. An unreachable server yields a disabled
// cache rather than an error.
func NewShared(cfg Config, logger zerolog.Logger) *Shared {
	logger = logger.With().Str("component", "shared_cache").Logger()
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSharedTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, shared cache disabled")
		_ = client.Close()
		return &Shared{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("shared cache connected")
	return &Shared{client: client, logger: logger, config: cfg}
}

// Close closes the Redis connection.
func (s *Shared) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// IsAvailable returns true if the tier is operational.
func (s *Shared) IsAvailable() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled && s.client != nil
}

func (s *Shared) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	s.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if s.config.DisableOnError {
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		s.logger.Warn().Msg("disabling shared cache due to Redis error")
	}
}

// Get looks up kind/key. The empty string is a valid (negative) value.
func (s *Shared) Get(ctx context.Context, kind, key string) (string, bool) {
	if !s.IsAvailable() {
		return "", false
	}
	val, err := s.client.Get(ctx, KeyPrefix+kind+":"+key).Result()
	if err != nil {
		s.handleError(err, "get")
		return "", false
	}
	return val, true
}

// Set stores kind/key with the configured TTL.
func (s *Shared) Set(ctx context.Context, kind, key, value string) {
	if !s.IsAvailable() {
		return
	}
	if err := s.client.Set(ctx, KeyPrefix+kind+":"+key, value, s.config.TTL).Err(); err != nil {
		s.handleError(err, "set")
	}
}
