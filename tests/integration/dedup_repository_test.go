package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/dedup"
)

func TestDedupRepository_ReserveWinsOnce(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	repo := dedup.NewRepository(infra.RedisClient)
	ctx := context.Background()

	won, owner, err := repo.Reserve(ctx, "dedup:fp:abc123", "record-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, "record-1", owner)

	// Second reservation for the same key loses and learns the winner.
	won, owner, err = repo.Reserve(ctx, "dedup:fp:abc123", "record-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, "record-1", owner)
}

func TestDedupRepository_ReservationExpires(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	repo := dedup.NewRepository(infra.RedisClient)
	ctx := context.Background()

	won, _, err := repo.Reserve(ctx, "dedup:fp:expiring", "record-1", 500*time.Millisecond)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(time.Second)

	won, owner, err := repo.Reserve(ctx, "dedup:fp:expiring", "record-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, "record-2", owner)
}

func TestDedupRepository_IndependentKeys(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	repo := dedup.NewRepository(infra.RedisClient)
	ctx := context.Background()

	won, _, err := repo.Reserve(ctx, "dedup:fp:one", "record-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, _, err = repo.Reserve(ctx, "dedup:fp:two", "record-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestDedupRepository_IncrementDuplicates(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	repo := dedup.NewRepository(infra.RedisClient)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := repo.IncrementDuplicates(ctx, "dedup:dups:abc123", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	ttl, err := infra.RedisClient.TTL(ctx, "dedup:dups:abc123").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDedupRepository_StoreSize(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	repo := dedup.NewRepository(infra.RedisClient)
	ctx := context.Background()

	for _, key := range []string{"dedup:fp:a", "dedup:fp:b", "dedup:fp:c"} {
		_, _, err := repo.Reserve(ctx, key, "record-1", time.Minute)
		require.NoError(t, err)
	}
	_, _, err := repo.Reserve(ctx, "dedup:content:x", "record-1", time.Minute)
	require.NoError(t, err)

	size, err := repo.StoreSize(ctx, "dedup:fp:")
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}
