package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	// GuestTokenHeader carries the signed guest session token on guest requests.
	GuestTokenHeader = "X-Guest-Token"

	defaultVerifyTimeout = 5 * time.Second
	defaultEmailClaim    = "email"
)

// TokenVerifier verifies Firebase ID tokens for registered shoppers.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// GuestParser validates signed guest session tokens.
type GuestParser interface {
	Parse(tokenStr string) (*Identity, error)
}

// Authenticator resolves the shopper identity for each request: a Firebase
// bearer token wins, a guest token header is the fallback.
type Authenticator struct {
	verifier TokenVerifier
	guests   GuestParser
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithGuestParser enables guest token acceptance alongside Firebase auth.
func WithGuestParser(parser GuestParser) Option {
	return func(a *Authenticator) {
		a.guests = parser
	}
}

// WithVerificationTimeout sets the timeout used when verifying bearer tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		timeout:  defaultVerifyTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// RequireShopper verifies the caller's identity and rejects anonymous requests.
// Registered shoppers present an Authorization bearer token; guests present
// the guest token header minted at session bootstrap.
func (a *Authenticator) RequireShopper() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenStr, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
				if a == nil || a.verifier == nil {
					respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
					return
				}

				ctx, cancel := a.contextWithTimeout(r.Context())
				if cancel != nil {
					defer cancel()
				}

				token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
				if err != nil {
					respondVerificationError(w, err)
					return
				}

				identity := &Identity{
					ShopperID: token.UID,
					Email:     claimAsString(token.Claims, defaultEmailClaim),
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			guestToken := strings.TrimSpace(r.Header.Get(GuestTokenHeader))
			if guestToken == "" || a == nil || a.guests == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header or guest token required")
				return
			}

			identity, err := a.guests.Parse(guestToken)
			if err != nil {
				switch {
				case errors.Is(err, ErrGuestTokenExpired):
					respondAuthError(w, http.StatusUnauthorized, "token_expired", "guest token expired")
				default:
					respondAuthError(w, http.StatusUnauthorized, "invalid_token", "guest token invalid")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalShopper resolves the caller's identity when credentials are present
// but lets anonymous requests through. Presented-but-invalid credentials are
// still rejected so a bad token cannot silently downgrade to a guest.
func (a *Authenticator) OptionalShopper() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenStr, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
				if a == nil || a.verifier == nil {
					respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
					return
				}

				ctx, cancel := a.contextWithTimeout(r.Context())
				if cancel != nil {
					defer cancel()
				}

				token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
				if err != nil {
					respondVerificationError(w, err)
					return
				}

				identity := &Identity{
					ShopperID: token.UID,
					Email:     claimAsString(token.Claims, defaultEmailClaim),
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			if guestToken := strings.TrimSpace(r.Header.Get(GuestTokenHeader)); guestToken != "" && a != nil && a.guests != nil {
				identity, err := a.guests.Parse(guestToken)
				if err != nil {
					switch {
					case errors.Is(err, ErrGuestTokenExpired):
						respondAuthError(w, http.StatusUnauthorized, "token_expired", "guest token expired")
					default:
						respondAuthError(w, http.StatusUnauthorized, "invalid_token", "guest token invalid")
					}
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func claimAsString(claims map[string]interface{}, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
