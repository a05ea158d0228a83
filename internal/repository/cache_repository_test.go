package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

func newCacheRepo(t *testing.T) (*miniredis.Miniredis, *CacheRepository) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewCacheRepository(client, nil)
}

func TestCacheRepositoryRoundTripAndPatternDelete(t *testing.T) {
	_, repo := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "roster:all", []string{"u-1"}, time.Minute))
	require.NoError(t, repo.Set(ctx, "roster:mesero", []string{"u-1"}, time.Minute))

	var got []string
	require.NoError(t, repo.Get(ctx, "roster:all", &got))
	assert.Equal(t, []string{"u-1"}, got)

	require.NoError(t, repo.DeleteByPattern(ctx, "roster:*"))
	assert.ErrorIs(t, repo.Get(ctx, "roster:mesero", &got), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryTTL(t *testing.T) {
	mr, repo := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "k", 1, time.Second))
	mr.FastForward(2 * time.Second)
	var v int
	assert.ErrorIs(t, repo.Get(ctx, "k", &v), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryPubSub(t *testing.T) {
	_, repo := newCacheRepo(t)
	ctx := context.Background()

	sub, err := repo.Subscribe(ctx, "turnos:user:u-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, repo.Publish(ctx, "turnos:user:u-1", []byte(`{"type":"ping"}`)))
	select {
	case msg := <-sub.Channel():
		assert.Equal(t, `{"type":"ping"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestCacheRepositoryDisabledIsMiss(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var v int
	assert.False(t, repo.Enabled())
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &v), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Publish(context.Background(), "c", nil))
}
