package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/containers"
)

func TestClaimCache_RealRedis(t *testing.T) {
	rc := containers.StartRedis(t)
	ctx := context.Background()

	cfg := config.Defaults().Redis
	cfg.Address = rc.Address
	client, err := NewRedisClient(ctx, &cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewClaimCache(client, zaptest.NewLogger(t), ClaimCacheConfig{TTL: time.Hour})
	require.NoError(t, err)

	obj := sampleClaim()
	require.NoError(t, cache.SetClaim(ctx, obj))

	ttl, err := client.TTL(ctx, ClaimKeyPrefix+obj.ClaimID).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	got, err := cache.GetClaim(ctx, obj.ClaimID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, obj.IntegrityHashes, got.IntegrityHashes)
}
