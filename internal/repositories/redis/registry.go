// Package redisrepo provides the Redis implementation of the checkout
// persistence contracts: session aggregates, receipts, the per-session
// key-value store, and the read-through caches.
package redisrepo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clairmont-cellars/api/internal/platform/config"
	"github.com/clairmont-cellars/api/internal/repositories"
)

const (
	defaultSessionTTL = 4 * time.Hour
	defaultCacheTTL   = 15 * time.Minute
)

// Registry bundles the Redis backed repositories behind a single client.
type Registry struct {
	client *redis.Client

	sessions *SessionRepository
	receipts *ReceiptRepository
	kv       *SessionKV
	cache    *CheckoutCache
}

// RegistryOption customises Registry construction.
type RegistryOption func(*registrySettings)

type registrySettings struct {
	sessionTTL time.Duration
	cacheTTL   time.Duration
}

// WithSessionTTL bounds how long an abandoned session survives.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(s *registrySettings) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithCacheTTL bounds the read-through cache entries.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(s *registrySettings) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// NewClient builds a go-redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRegistry constructs the repository registry on top of a Redis client.
func NewRegistry(client *redis.Client, opts ...RegistryOption) *Registry {
	settings := registrySettings{
		sessionTTL: defaultSessionTTL,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	return &Registry{
		client:   client,
		sessions: &SessionRepository{client: client, ttl: settings.sessionTTL},
		receipts: &ReceiptRepository{client: client, ttl: settings.sessionTTL},
		kv:       &SessionKV{client: client, ttl: settings.sessionTTL},
		cache:    &CheckoutCache{client: client, baseTTL: settings.cacheTTL},
	}
}

// Close releases the underlying client.
func (r *Registry) Close(ctx context.Context) error {
	return r.client.Close()
}

// Sessions returns the session repository.
func (r *Registry) Sessions() repositories.SessionRepository { return r.sessions }

// Receipts returns the receipt repository.
func (r *Registry) Receipts() repositories.ReceiptRepository { return r.receipts }

// SessionKV returns the per-session key-value store.
func (r *Registry) SessionKV() repositories.SessionKV { return r.kv }

// Cache returns the read-through checkout cache.
func (r *Registry) Cache() repositories.CheckoutCache { return r.cache }
