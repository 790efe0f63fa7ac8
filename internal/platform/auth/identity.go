package auth

import (
	"context"
	"strings"
)

// Identity captures the shopper behind a checkout request: either a verified
// account holder or a guest carrying a signed short-lived token.
type Identity struct {
	ShopperID string
	Email     string
	Guest     bool
}

// Registered reports whether this identity belongs to a verified account.
func (i *Identity) Registered() bool {
	return i != nil && !i.Guest && strings.TrimSpace(i.ShopperID) != ""
}

type contextKey string

const identityContextKey contextKey = "github.com/clairmont-cellars/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
