package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultCommerceTimeout  = 20 * time.Second
	defaultSessionTTL       = 4 * time.Hour
	defaultGuestTokenTTL    = 12 * time.Hour
	defaultCacheTTL         = 15 * time.Minute
	defaultCVVTTL           = 30 * time.Minute
	defaultConsultantURL    = "shop"
	defaultPickUpLocalID    = "900"
	defaultPickUpHALID      = "901"
	defaultPickUpABCStoreID = "902"
	defaultEnvironment      = "local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Commerce CommerceConfig
	Redis    RedisConfig
	Firebase FirebaseConfig
	Guest    GuestConfig
	Checkout CheckoutConfig
	Secrets  SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig points at the commerce backend this service brokers.
type CommerceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RedisConfig stores session/cache store parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FirebaseConfig stores Firebase project settings for registered-shopper auth.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// GuestConfig controls ephemeral guest session tokens.
type GuestConfig struct {
	SigningSecret string
	TokenTTL      time.Duration
}

// CheckoutConfig groups checkout-core behaviour knobs.
type CheckoutConfig struct {
	// CVVKey is the symmetric key (hex, 32 bytes decoded) used to encrypt the
	// verification code before submission. Never logged.
	CVVKey string
	// CVVTTL bounds how long the vault holds an unsubmitted code.
	CVVTTL time.Duration
	// SessionTTL bounds an abandoned checkout session's lifetime.
	SessionTTL time.Duration
	// CacheTTL bounds the read-through caches (account lists, methods, balance).
	CacheTTL time.Duration
	// DefaultConsultantURL is forwarded when no consultant is attributed.
	DefaultConsultantURL string
	// WidgetAPIKey authenticates collect-point widget callbacks.
	WidgetAPIKey string
	// Shipping-method identifiers the backend uses for each pick-up mode.
	PickUpLocalMethodID    string
	PickUpHALMethodID      string
	PickUpABCStoreMethodID string
}

// SecretsConfig configures the Secret Manager fetcher.
type SecretsConfig struct {
	Environment  string
	ProjectID    string
	FallbackPath string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables fallback to the process environment (used in tests).
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from the .env file, the process
// environment, and any explicit overrides, resolving secret:// references
// through the installed resolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := environmentValues(options)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL: stringWithDefault(lookup, "COMMERCE_BASE_URL", ""),
			APIKey:  stringWithDefault(lookup, "COMMERCE_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "COMMERCE_TIMEOUT", defaultCommerceTimeout),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "REDIS_ADDR", "localhost:6379"),
			Password: stringWithDefault(lookup, "REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "REDIS_DB", 0),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
		},
		Guest: GuestConfig{
			SigningSecret: stringWithDefault(lookup, "GUEST_SIGNING_SECRET", ""),
			TokenTTL:      durationWithDefault(lookup, "GUEST_TOKEN_TTL", defaultGuestTokenTTL),
		},
		Checkout: CheckoutConfig{
			CVVKey:                 stringWithDefault(lookup, "CHECKOUT_CVV_KEY", ""),
			CVVTTL:                 durationWithDefault(lookup, "CHECKOUT_CVV_TTL", defaultCVVTTL),
			SessionTTL:             durationWithDefault(lookup, "CHECKOUT_SESSION_TTL", defaultSessionTTL),
			CacheTTL:               durationWithDefault(lookup, "CHECKOUT_CACHE_TTL", defaultCacheTTL),
			DefaultConsultantURL:   stringWithDefault(lookup, "CHECKOUT_DEFAULT_CONSULTANT_URL", defaultConsultantURL),
			WidgetAPIKey:           stringWithDefault(lookup, "CHECKOUT_WIDGET_API_KEY", ""),
			PickUpLocalMethodID:    stringWithDefault(lookup, "CHECKOUT_PICKUP_LOCAL_METHOD_ID", defaultPickUpLocalID),
			PickUpHALMethodID:      stringWithDefault(lookup, "CHECKOUT_PICKUP_HAL_METHOD_ID", defaultPickUpHALID),
			PickUpABCStoreMethodID: stringWithDefault(lookup, "CHECKOUT_PICKUP_ABC_METHOD_ID", defaultPickUpABCStoreID),
		},
		Secrets: SecretsConfig{
			Environment:  stringWithDefault(lookup, "ENVIRONMENT", defaultEnvironment),
			ProjectID:    stringWithDefault(lookup, "SECRETS_PROJECT_ID", ""),
			FallbackPath: stringWithDefault(lookup, "SECRETS_FALLBACK_PATH", ""),
		},
	}

	if cfg.Commerce.APIKey, err = resolveSecret(ctx, cfg.Commerce.APIKey, options.secret); err != nil {
		return Config{}, err
	}
	if cfg.Guest.SigningSecret, err = resolveSecret(ctx, cfg.Guest.SigningSecret, options.secret); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.CVVKey, err = resolveSecret(ctx, cfg.Checkout.CVVKey, options.secret); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.WidgetAPIKey, err = resolveSecret(ctx, cfg.Checkout.WidgetAPIKey, options.secret); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func environmentValues(options loaderOptions) (map[string]string, error) {
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			values[key] = parts[1]
		}
	}

	merge(options.envMap)

	return values, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: value, Err: errSecretResolverNotConfigured}
	}
	resolved, err := resolver.ResolveSecret(ctx, value)
	if err != nil {
		return "", &SecretError{Ref: value, Err: err}
	}
	return resolved, nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "secret://")
}

func validateConfig(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "PORT")
	}
	if strings.TrimSpace(cfg.Commerce.BaseURL) == "" {
		missing = append(missing, "COMMERCE_BASE_URL")
	}
	if strings.TrimSpace(cfg.Guest.SigningSecret) == "" {
		missing = append(missing, "GUEST_SIGNING_SECRET")
	}
	if strings.TrimSpace(cfg.Checkout.CVVKey) == "" {
		missing = append(missing, "CHECKOUT_CVV_KEY")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
