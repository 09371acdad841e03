package domain

import (
	"context"
	"time"
)

// Cache defines the interface for the fast-access store backing the
// feature store. Implementations: in-process LRU (Community), Redis (Pro),
// or a two-phase combination of both.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found: a miss is a cold-start signal,
	// never an error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetProfile retrieves a cached account profile snapshot.
	GetProfile(ctx context.Context, accountID string) (*AccountProfile, error)

	// SetProfile caches an account profile snapshot.
	SetProfile(ctx context.Context, accountID string, p *AccountProfile, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for per-IP traffic density.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
