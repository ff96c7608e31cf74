package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// ClaimKeyPrefix namespaces sealed claims in redis.
const ClaimKeyPrefix = "sar:claim:"

// DefaultClaimTTL applies when the config leaves the TTL unset.
const DefaultClaimTTL = 24 * time.Hour

// ClaimCache is a cache-aside store for sealed claims. Claims are immutable,
// so an entry is valid until it expires.
type ClaimCache struct {
	client    *redis.Client
	logger    *zap.Logger
	ttl       time.Duration
	ttlJitter time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// ClaimCacheConfig holds configuration for the claim cache
type ClaimCacheConfig struct {
	TTL       time.Duration
	TTLJitter time.Duration // spreads expiry to avoid stampedes
}

func NewClaimCache(client *redis.Client, logger *zap.Logger, cfg ClaimCacheConfig) (*ClaimCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultClaimTTL
	}
	return &ClaimCache{
		client:    client,
		logger:    logger,
		ttl:       cfg.TTL,
		ttlJitter: cfg.TTLJitter,
	}, nil
}

// GetClaim returns the cached claim, or nil on a miss.
func (c *ClaimCache) GetClaim(ctx context.Context, claimID string) (*claim.Object, error) {
	data, err := c.client.Get(ctx, c.claimKey(claimID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.misses.Add(1)
			return nil, nil
		}
		c.errors.Add(1)
		return nil, errors.NewInternalError("failed to get claim from cache").WithCause(err)
	}

	var obj claim.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		c.errors.Add(1)
		return nil, errors.NewInternalError("failed to unmarshal cached claim").WithCause(err)
	}

	c.hits.Add(1)
	return &obj, nil
}

// SetClaim stores a claim under its id.
func (c *ClaimCache) SetClaim(ctx context.Context, obj *claim.Object) error {
	if obj == nil {
		return errors.NewValidationError("INVALID_CLAIM", "claim cannot be nil")
	}

	data, err := json.Marshal(obj)
	if err != nil {
		c.errors.Add(1)
		return errors.NewInternalError("failed to marshal claim").WithCause(err)
	}

	if err := c.client.Set(ctx, c.claimKey(obj.ClaimID), data, c.addJitter(c.ttl)).Err(); err != nil {
		c.errors.Add(1)
		return errors.NewInternalError("failed to cache claim").WithCause(err)
	}
	return nil
}

// Stats reports hit, miss and error counts since construction.
func (c *ClaimCache) Stats() map[string]int64 {
	return map[string]int64{
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
		"errors": c.errors.Load(),
	}
}

func (c *ClaimCache) claimKey(claimID string) string {
	return ClaimKeyPrefix + claimID
}

func (c *ClaimCache) addJitter(ttl time.Duration) time.Duration {
	if c.ttlJitter <= 0 {
		return ttl
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(c.ttlJitter))
	return ttl + jitter
}
