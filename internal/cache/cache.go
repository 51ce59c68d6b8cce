// Package cache holds encoded analysis reports between identical requests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// New creates a cache based on configuration.
// "memory" is the in-process LRU. "redis" is Redis alone, or an LRU in
// front of Redis when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2).
// L1 entries never outlive localTTL so nodes converge on L2 quickly.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache connects to Redis and builds the local tier.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, localTTL: localTTL}
}

func (c *TwoPhaseCache) l1TTL(ttl time.Duration) time.Duration {
	return min(ttl, c.localTTL)
}

// Get checks L1, then L2. An L2 hit is copied into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, ttl, err := c.remote.getWithTTL(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = c.localTTL
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL(ttl))
	return val, nil
}

// Set writes L2 first so L1 never holds a value Redis rejected.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, tenantID, key, value, c.l1TTL(ttl))
}

// Delete removes the key from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Ping checks both tiers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close releases both tiers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

var (
	_ domain.Cache = (*LRUCache)(nil)
	_ domain.Cache = (*RedisCache)(nil)
	_ domain.Cache = (*TwoPhaseCache)(nil)
)
