package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU plus Redis for multi-node setups.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetRisk retrieves a cached merchant risk score.
	GetRisk(ctx context.Context, merchantID string) (*RiskEntry, error)

	// SetRisk caches a merchant risk score.
	SetRisk(ctx context.Context, merchantID string, entry *RiskEntry, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for API rate limiting.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RiskEntry is a cached merchant risk lookup result. Known is false when the
// registry has no entry for the merchant, which is cached too so unknown
// merchants do not hit the repository on every transaction.
type RiskEntry struct {
	Score float64 `json:"score"`
	Known bool    `json:"known"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
