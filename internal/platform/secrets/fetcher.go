package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 5 * time.Minute
)

// ErrSecretNotFound indicates the reference resolved to no value in Secret
// Manager or the fallback file.
var ErrSecretNotFound = errors.New("secrets: not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager with a
// local fallback file for development environments.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger    *zap.Logger
	env       string
	projectID string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// FetcherOption customises Fetcher construction.
type FetcherOption func(*Fetcher)

// WithLogger installs the logger used for resolution diagnostics.
func WithLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment sets the runtime environment label (local environments
// prefer the fallback file and never touch Secret Manager).
func WithEnvironment(env string) FetcherOption {
	return func(f *Fetcher) {
		env = strings.TrimSpace(strings.ToLower(env))
		if env != "" {
			f.env = env
		}
	}
}

// WithFallbackPath overrides the local fallback file location.
func WithFallbackPath(path string) FetcherOption {
	return func(f *Fetcher) {
		if strings.TrimSpace(path) != "" {
			f.fallbackPath = path
		}
	}
}

// WithClient injects a Secret Manager client (used by tests).
func WithClient(client secretManagerClient) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
		f.ownsClient = false
	}
}

// WithCacheTTL overrides how long resolved values are held in memory.
func WithCacheTTL(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// NewFetcher constructs a Fetcher for the given project. In non-local
// environments a Secret Manager client is created lazily on first use.
func NewFetcher(projectID string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		projectID:    strings.TrimSpace(projectID),
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cacheEntry),
		ttl:          defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// ResolveSecret resolves a secret:// reference. Local environments read only
// the fallback file; other environments consult Secret Manager first and the
// fallback file second.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name := normalizeReference(ref)
	if name == "" {
		return "", fmt.Errorf("secrets: invalid reference %q", ref)
	}

	if value, ok := f.cached(name); ok {
		return value, nil
	}

	if f.env == defaultEnvironment {
		value, err := f.fallback(name)
		if err != nil {
			return "", err
		}
		f.store(name, value)
		return value, nil
	}

	value, err := f.accessSecretManager(ctx, name)
	if err == nil {
		f.store(name, value)
		return value, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		f.logger.Warn("secret manager access failed, trying fallback",
			zap.String("secret", name),
			zap.Error(err),
		)
	}

	value, fbErr := f.fallback(name)
	if fbErr != nil {
		return "", err
	}
	f.store(name, value)
	return value, nil
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) accessSecretManager(ctx context.Context, name string) (string, error) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	version := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", f.projectID, name)
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: version})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return string(resp.Payload.Data), nil
}

func (f *Fetcher) ensureClient(ctx context.Context) (secretManagerClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	if f.projectID == "" {
		return nil, errors.New("secrets: project id not configured")
	}
	client, err := secretManagerClientFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	f.client = client
	f.ownsClient = true
	return client, nil
}

func (f *Fetcher) fallback(name string) (string, error) {
	f.fallbackOnce.Do(func() {
		f.fallbackVals, f.fallbackErr = loadFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", f.fallbackErr
	}
	value, ok := f.fallbackVals[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (f *Fetcher) cached(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[name]
	if !ok || time.Since(entry.fetchedAt) > f.ttl {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[name] = cacheEntry{value: value, fetchedAt: time.Now()}
}

func normalizeReference(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "secret://")
	return strings.Trim(ref, "/")
}

func loadFallbackFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]string{}, nil
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open secrets fallback %s: %w", path, err)
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
		values[key] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read secrets fallback %s: %w", path, err)
	}
	return values, nil
}
