package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/clairmont-cellars/api/internal/platform/config"
)

const (
	defaultGuestTokenTTL = 2 * time.Hour
	guestTokenIssuer     = "clairmont-checkout"
)

var (
	// ErrGuestTokenInvalid signals a malformed, forged, or mis-typed guest token.
	ErrGuestTokenInvalid = errors.New("auth: guest token invalid")
	// ErrGuestTokenExpired signals that the guest token's lifetime has lapsed.
	ErrGuestTokenExpired = errors.New("auth: guest token expired")
)

type guestClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GuestTokenIssuer mints and parses signed tokens that let a guest shopper
// hold a checkout session without an account.
type GuestTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// GuestIssuerOption customises GuestTokenIssuer instances.
type GuestIssuerOption func(*GuestTokenIssuer)

// WithGuestClock overrides the time source; used by tests.
func WithGuestClock(clock func() time.Time) GuestIssuerOption {
	return func(g *GuestTokenIssuer) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGuestTokenIssuer constructs an issuer from the configured signing secret.
func NewGuestTokenIssuer(cfg config.GuestConfig, opts ...GuestIssuerOption) (*GuestTokenIssuer, error) {
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return nil, errors.New("auth: guest signing secret is required")
	}

	issuer := &GuestTokenIssuer{
		secret: []byte(secret),
		ttl:    cfg.TokenTTL,
		clock:  time.Now,
	}
	if issuer.ttl <= 0 {
		issuer.ttl = defaultGuestTokenTTL
	}

	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}

	return issuer, nil
}

// Mint produces a signed guest token. A fresh shopper id is generated when
// none is supplied so a returning guest keeps the same id across renewals.
func (g *GuestTokenIssuer) Mint(shopperID, email string) (string, error) {
	if g == nil {
		return "", errors.New("auth: guest token issuer not initialised")
	}

	now := g.clock().UTC()
	if shopperID == "" {
		shopperID = "guest_" + ulid.Make().String()
	}

	claims := guestClaims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    guestTokenIssuer,
			Subject:   shopperID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign guest token: %w", err)
	}
	return signed, nil
}

// Parse validates a guest token and returns the guest identity it carries.
func (g *GuestTokenIssuer) Parse(tokenStr string) (*Identity, error) {
	if g == nil {
		return nil, errors.New("auth: guest token issuer not initialised")
	}

	claims := &guestClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.clock), jwt.WithIssuer(guestTokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrGuestTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrGuestTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrGuestTokenInvalid
	}

	return &Identity{
		ShopperID: claims.Subject,
		Email:     claims.Email,
		Guest:     true,
	}, nil
}
