package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clairmont-cellars/api/internal/repositories"
)

func kvKey(sessionID string) string {
	return fmt.Sprintf("checkout:kv:%s", sessionID)
}

// SessionKV stores per-session side-channel values (committed gift message,
// tasting-event selections) in one hash per session so they expire together.
type SessionKV struct {
	client *redis.Client
	ttl    time.Duration
}

// Get returns the stored value for the key.
func (r *SessionKV) Get(ctx context.Context, sessionID, key string) (string, error) {
	value, err := r.client.HGet(ctx, kvKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", repositories.ErrCacheMiss
	}
	if err != nil {
		return "", wrapErr("session kv get", err)
	}
	return value, nil
}

// Set writes the value and refreshes the hash's TTL.
func (r *SessionKV) Set(ctx context.Context, sessionID, key, value string) error {
	hash := kvKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, hash, key, value)
	pipe.Expire(ctx, hash, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("session kv set", err)
	}
	return nil
}

// Delete removes the key from the session's hash.
func (r *SessionKV) Delete(ctx context.Context, sessionID, key string) error {
	if err := r.client.HDel(ctx, kvKey(sessionID), key).Err(); err != nil {
		return wrapErr("session kv delete", err)
	}
	return nil
}
