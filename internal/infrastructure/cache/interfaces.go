package cache

import (
	"context"
	"time"
)

// Store is the backend the search cache runs on. Entries carry an optional
// tag set so related keys can be invalidated together. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get retrieves the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl and indexes it under each tag.
	// A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes the given keys; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error

	// DeleteByTag removes every entry indexed under tag and returns
	// how many entries were dropped
	DeleteByTag(ctx context.Context, tag string) (int, error)

	// Exists checks if a key holds an unexpired entry
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the backend connection
	Close() error
}

// Key prefixes for consistent cache key naming
const (
	SearchPrefix = "npg:search:"
	TagPrefix    = "npg:tag:"
)

// Common TTL values
const (
	DefaultSearchTTL = 5 * time.Minute
	ShortCacheTTL    = 30 * time.Second
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	_, ok := err.(ErrCacheKeyNotFound)
	return ok
}
