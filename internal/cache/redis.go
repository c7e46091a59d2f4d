// Package cache keeps recent on-demand lookup results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bot-scorer/internal/snapshot"
	"bot-scorer/internal/tracker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "botscorer:lookup:"

// RedisCache implements tracker.LookupCache through Redis. Failures are
// logged and reported as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ tracker.LookupCache = (*RedisCache)(nil)

func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedis(client, ttl), nil
}

func key(screenName string) string {
	return keyPrefix + strings.ToLower(screenName)
}

// Get returns the cached result for screenName.
func (c *RedisCache) Get(ctx context.Context, screenName string) (snapshot.Result, bool) {
	data, err := c.client.Get(ctx, key(screenName)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("screen_name", screenName).Msg("Lookup cache read failed")
		}
		return snapshot.Result{}, false
	}

	var res snapshot.Result
	if err := json.Unmarshal(data, &res); err != nil {
		log.Warn().Err(err).Str("screen_name", screenName).Msg("Discarding corrupt lookup cache entry")
		return snapshot.Result{}, false
	}
	return res, true
}

// Set stores res for the configured TTL.
func (c *RedisCache) Set(ctx context.Context, screenName string, res snapshot.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		log.Warn().Err(err).Str("screen_name", screenName).Msg("Failed to encode lookup result")
		return
	}
	if err := c.client.Set(ctx, key(screenName), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("screen_name", screenName).Msg("Lookup cache write failed")
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
