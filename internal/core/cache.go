// Package core provides the business logic and service layer contracts for the jobmill scheduler.
package core

import (
	"context"
	"strconv"
	"time"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is useful for implementing distributed locks and deduplication.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// FireGuard suppresses duplicate scheduled fires across server replicas by
// claiming a per-(job, instant) key with an atomic set-if-absent. Without a
// cache it degrades to always allowing the fire; the store-level live
// execution check remains the authoritative guard.
type FireGuard struct {
	cache CacheRepository
	ttl   time.Duration
}

// FireGuardConfig holds configuration for scheduled-fire deduplication.
type FireGuardConfig struct {
	TTL time.Duration `json:"ttl"`
}

// FireGuardOptions bundles dependencies for NewFireGuard.
type FireGuardOptions struct {
	Cache  CacheRepository
	Config FireGuardConfig
}

// DefaultFireGuardConfig returns a FireGuardConfig with sensible defaults.
func DefaultFireGuardConfig() FireGuardConfig {
	return FireGuardConfig{
		// Long enough to cover the misfire grace window on every replica.
		TTL: 5 * time.Minute,
	}
}

// NewFireGuard creates a new FireGuard. A nil cache is allowed and turns the
// guard into a pass-through.
func NewFireGuard(opts FireGuardOptions) *FireGuard {
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultFireGuardConfig().TTL
	}
	return &FireGuard{
		cache: opts.Cache,
		ttl:   ttl,
	}
}

// TryAcquire claims the fire for jobID at the scheduled instant. True means
// this caller owns the fire; false means another replica already claimed it.
// Cache errors allow the fire rather than losing it.
func (g *FireGuard) TryAcquire(ctx context.Context, jobID string, scheduledAt time.Time) (bool, error) {
	if g == nil || g.cache == nil {
		return true, nil
	}

	key := g.fireKey(jobID, scheduledAt)
	ok, err := g.cache.SetIfNotExists(ctx, key, []byte("1"), g.ttl)
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Release drops the claim early, letting a re-fire through before the TTL
// lapses. Used when a claimed fire was dropped before starting.
func (g *FireGuard) Release(ctx context.Context, jobID string, scheduledAt time.Time) error {
	if g == nil || g.cache == nil {
		return nil
	}
	_, err := g.cache.Delete(ctx, g.fireKey(jobID, scheduledAt))
	return err
}

// fireKey generates the dedupe key for one job fire. The instant is pinned
// to UTC seconds so replicas in different zones agree on the key.
func (g *FireGuard) fireKey(jobID string, scheduledAt time.Time) string {
	return "fire:" + jobID + ":" + strconv.FormatInt(scheduledAt.UTC().Unix(), 10)
}
