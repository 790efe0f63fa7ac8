package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/clairmont-cellars/api/internal/domain"
)

var (
	// ErrSessionNotFound indicates the checkout session does not exist or expired.
	ErrSessionNotFound = errors.New("session repository: session not found")
	// ErrVersionConflict indicates an optimistic save lost to a concurrent writer.
	ErrVersionConflict = errors.New("session repository: version conflict")
	// ErrReceiptNotFound indicates no receipt exists for the session.
	ErrReceiptNotFound = errors.New("receipt repository: receipt not found")
	// ErrCacheMiss indicates the read-through cache has no entry for the key.
	ErrCacheMiss = errors.New("checkout cache: miss")
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Sessions() SessionRepository
	Receipts() ReceiptRepository
	SessionKV() SessionKV
	Cache() CheckoutCache
}

// SessionRepository persists checkout session aggregates. The session is the
// single source of truth for checkout state; every handler loads it, applies
// one action, and saves it back.
type SessionRepository interface {
	// Get loads a session by id.
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	// Save persists the session. When expected is non-nil the write only
	// succeeds if the stored UpdatedAt still matches, otherwise
	// ErrVersionConflict is returned and the caller must reload.
	Save(ctx context.Context, session domain.CheckoutSession, expected *time.Time) error
	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error
}

// ReceiptRepository stores the immutable post-submission receipt, keyed by
// the checkout session that produced it.
type ReceiptRepository interface {
	Get(ctx context.Context, sessionID string) (domain.Receipt, error)
	Save(ctx context.Context, sessionID string, receipt domain.Receipt) error
	Delete(ctx context.Context, sessionID string) error
}

// SessionKV is the durable per-session key-value store for side-channel
// state that must survive page navigation within checkout: the committed
// gift message and tasting-event selections, keyed by well-known strings.
type SessionKV interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
}

// CheckoutCache holds the read-through caches keyed by cart id (account
// snapshot, shipping methods, order summary) or shopper id (balance). Caches
// are invalidated, never mutated in place, when an action changes their
// underlying resource.
type CheckoutCache interface {
	GetAccountSnapshot(ctx context.Context, cartID string) (domain.AccountSnapshot, error)
	SetAccountSnapshot(ctx context.Context, cartID string, snapshot domain.AccountSnapshot) error
	DeleteAccountSnapshot(ctx context.Context, cartID string) error

	GetShippingMethods(ctx context.Context, cartID string) ([]domain.ShippingMethod, error)
	SetShippingMethods(ctx context.Context, cartID string, methods []domain.ShippingMethod) error
	DeleteShippingMethods(ctx context.Context, cartID string) error

	GetBalance(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error)
	SetBalance(ctx context.Context, shopperID string, balance domain.SkyWalletBalance) error
	DeleteBalance(ctx context.Context, shopperID string) error

	GetOrderSummary(ctx context.Context, cartID string) (domain.OrderSummary, error)
	SetOrderSummary(ctx context.Context, cartID string, summary domain.OrderSummary) error
	DeleteOrderSummary(ctx context.Context, cartID string) error

	// InvalidateCart drops every cache entry derived from the cart, plus the
	// province-keyed cart entry, so the next fetch reflects a cleared cart.
	InvalidateCart(ctx context.Context, cartID, provinceKey string) error
}
