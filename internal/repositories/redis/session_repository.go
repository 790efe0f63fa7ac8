package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

func sessionKey(sessionID string) string {
	return fmt.Sprintf("checkout:session:%s", sessionID)
}

func receiptKey(sessionID string) string {
	return fmt.Sprintf("checkout:receipt:%s", sessionID)
}

// SessionRepository stores checkout session aggregates as JSON values with a
// sliding TTL. Saves are optimistic: callers pass the UpdatedAt they loaded
// and lose to any concurrent writer that got there first.
type SessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CheckoutSession{}, repositories.ErrSessionNotFound
	}
	if err != nil {
		return domain.CheckoutSession{}, wrapErr("session get", err)
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.CheckoutSession{}, wrapErr("session decode", err)
	}
	return session, nil
}

// Save persists the session, refreshing its TTL. A non-nil expected time
// turns the write into a compare-and-set on the stored UpdatedAt.
func (r *SessionRepository) Save(ctx context.Context, session domain.CheckoutSession, expected *time.Time) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return wrapErr("session encode", err)
	}
	key := sessionKey(session.ID)

	if expected == nil {
		if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			return wrapErr("session set", err)
		}
		return nil
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repositories.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var current domain.CheckoutSession
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
		if !current.UpdatedAt.Equal(*expected) {
			return repositories.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return repositories.ErrVersionConflict
	case errors.Is(err, repositories.ErrVersionConflict), errors.Is(err, repositories.ErrSessionNotFound):
		return err
	default:
		return wrapErr("session save", err)
	}
}

// Delete removes the session.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return wrapErr("session delete", err)
	}
	return nil
}

// ReceiptRepository stores the immutable post-submission receipt alongside
// the session that produced it.
type ReceiptRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// Get loads the receipt for a session.
func (r *ReceiptRepository) Get(ctx context.Context, sessionID string) (domain.Receipt, error) {
	raw, err := r.client.Get(ctx, receiptKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Receipt{}, repositories.ErrReceiptNotFound
	}
	if err != nil {
		return domain.Receipt{}, wrapErr("receipt get", err)
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return domain.Receipt{}, wrapErr("receipt decode", err)
	}
	return receipt, nil
}

// Save writes the receipt snapshot.
func (r *ReceiptRepository) Save(ctx context.Context, sessionID string, receipt domain.Receipt) error {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return wrapErr("receipt encode", err)
	}
	if err := r.client.Set(ctx, receiptKey(sessionID), payload, r.ttl).Err(); err != nil {
		return wrapErr("receipt set", err)
	}
	return nil
}

// Delete clears the receipt; called when a new checkout session starts.
func (r *ReceiptRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, receiptKey(sessionID)).Err(); err != nil {
		return wrapErr("receipt delete", err)
	}
	return nil
}
