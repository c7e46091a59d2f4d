package cache

import (
	"context"
	"testing"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func sampleResult() snapshot.Result {
	return snapshot.Result{
		TwitterID:  783214,
		ScreenName: "Twitter",
		Name:       "Twitter",
		CreatedAt:  time.Date(2007, 2, 20, 14, 35, 54, 0, time.UTC),
		Features: features.Features{
			StatusesCount:  71944,
			FollowersCount: 70787,
			Verified:       true,
		},
		BotScore: 0.000201,
		IsActive: true,
		RankedFeatures: features.Ranked{
			{Name: features.FollowersCount, Value: 70787},
			{Name: features.StatusesCount, Value: 71944},
		},
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	client := setupRedis(t)
	cache := NewRedis(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "twitter")
	assert.False(t, ok)

	want := sampleResult()
	cache.Set(ctx, "Twitter", want)

	got, ok := cache.Get(ctx, "TWITTER")
	require.True(t, ok)
	assert.Equal(t, want.TwitterID, got.TwitterID)
	assert.Equal(t, want.Features, got.Features)
	assert.Equal(t, want.RankedFeatures.Keys(), got.RankedFeatures.Keys())
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	ttl, err := client.TTL(ctx, key("twitter")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisCache_Expiry(t *testing.T) {
	client := setupRedis(t)
	cache := NewRedis(client, 100*time.Millisecond)
	ctx := context.Background()

	cache.Set(ctx, "short", sampleResult())
	assert.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "short")
		return !ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	client := setupRedis(t)
	cache := NewRedis(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, key("broken"), "not json", time.Minute).Err())
	_, ok := cache.Get(ctx, "broken")
	assert.False(t, ok)
}

func TestRedisCache_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	cache := NewRedis(client, time.Minute)
	ctx := context.Background()

	assert.NotPanics(t, func() { cache.Set(ctx, "twitter", sampleResult()) })
	_, ok := cache.Get(ctx, "twitter")
	assert.False(t, ok)
}

func TestKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, key("jack"), key("JaCk"))
	assert.Equal(t, "botscorer:lookup:jack", key("Jack"))
}
