// Package di assembles the runtime dependency graph: configuration, the
// Redis repositories, the commerce client, the CVV vault, and the service
// layer the HTTP handlers consume.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clairmont-cellars/api/internal/commerce"
	"github.com/clairmont-cellars/api/internal/handlers"
	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/config"
	"github.com/clairmont-cellars/api/internal/platform/cvvvault"
	"github.com/clairmont-cellars/api/internal/platform/observability"
	"github.com/clairmont-cellars/api/internal/platform/requestctx"
	redisrepo "github.com/clairmont-cellars/api/internal/repositories/redis"
	"github.com/clairmont-cellars/api/internal/services"
	"github.com/clairmont-cellars/api/internal/widget"
)

// Services bundles the service-layer contracts the handlers rely upon.
type Services struct {
	Sessions   services.SessionService
	Reconciler services.ReconcilerService
	Gifts      services.GiftMessageService
	Wallet     services.SkyWalletService
	Submission services.SubmissionService
}

// Container wires repositories, services, and the HTTP router for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories *redisrepo.Registry
	Commerce     *commerce.Client
	Vault        *cvvvault.Vault
	Widget       *widget.Bus
	Services     Services
	Router       http.Handler
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	redisClient := redisrepo.NewClient(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	registry := redisrepo.NewRegistry(redisClient,
		redisrepo.WithSessionTTL(cfg.Checkout.SessionTTL),
		redisrepo.WithCacheTTL(cfg.Checkout.CacheTTL),
	)

	commerceClient, err := commerce.NewClient(cfg.Commerce)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, fmt.Errorf("build commerce client: %w", err)
	}

	encryptor, err := cvvvault.NewEncryptor(cfg.Checkout.CVVKey)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, fmt.Errorf("build cvv encryptor: %w", err)
	}
	vault := cvvvault.NewVault(cvvvault.WithTTL(cfg.Checkout.CVVTTL))

	bus := widget.NewBus()

	guestIssuer, err := auth.NewGuestTokenIssuer(cfg.Guest)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, fmt.Errorf("build guest token issuer: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			_ = registry.Close(ctx)
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebase
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithGuestParser(guestIssuer))

	svc, err := buildServices(registry, commerceClient, vault, encryptor, bus, cfg, logger)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, err
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithReadinessCheck("redis", func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		)),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(authenticator, svc.Sessions, handlers.WithGuestIssuer(guestIssuer)).Routes),
		handlers.WithDeliveryRoutes(handlers.NewDeliveryHandlers(authenticator, svc.Reconciler).Routes),
		handlers.WithGiftMessageRoutes(handlers.NewGiftMessageHandlers(authenticator, svc.Gifts).Routes),
		handlers.WithSkyWalletRoutes(handlers.NewSkyWalletHandlers(authenticator, svc.Wallet).Routes),
		handlers.WithSubmissionRoutes(handlers.NewSubmissionHandlers(authenticator, svc.Submission).Routes),
		handlers.WithWidgetRoutes(handlers.NewWidgetHandlers(nil, bus).Routes),
		handlers.WithWidgetMiddlewares(handlers.RequireAPIKey(cfg.Checkout.WidgetAPIKey)),
	)

	return &Container{
		Config:       cfg,
		Logger:       logger,
		Repositories: registry,
		Commerce:     commerceClient,
		Vault:        vault,
		Widget:       bus,
		Services:     svc,
		Router:       router,
	}, nil
}

// Close releases the repository clients and cancels widget subscriptions.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Repositories != nil {
		return c.Repositories.Close(ctx)
	}
	return nil
}

func buildServices(
	registry *redisrepo.Registry,
	commerceClient *commerce.Client,
	vault *cvvvault.Vault,
	encryptor *cvvvault.Encryptor,
	bus *widget.Bus,
	cfg config.Config,
	logger *zap.Logger,
) (Services, error) {
	eventLog := serviceEventLogger(logger)

	sessionSvc, err := services.NewSessionService(services.SessionServiceDeps{
		Sessions: registry.Sessions(),
		Receipts: registry.Receipts(),
		KV:       registry.SessionKV(),
		Cache:    registry.Cache(),
		Commerce: commerceClient,
		Vault:    vault,
		Clock:    time.Now,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build session service: %w", err)
	}

	reconcilerSvc, err := services.NewReconcilerService(services.ReconcilerServiceDeps{
		Sessions: registry.Sessions(),
		Cache:    registry.Cache(),
		Commerce: commerceClient,
		Widget:   bus,
		Vault:    vault,
		Checkout: cfg.Checkout,
		Clock:    time.Now,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciler service: %w", err)
	}

	giftSvc, err := services.NewGiftMessageService(services.GiftMessageServiceDeps{
		Sessions: registry.Sessions(),
		KV:       registry.SessionKV(),
		Vault:    vault,
		Clock:    time.Now,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build gift message service: %w", err)
	}

	walletSvc, err := services.NewSkyWalletService(services.SkyWalletServiceDeps{
		Sessions: registry.Sessions(),
		Cache:    registry.Cache(),
		Commerce: commerceClient,
		Vault:    vault,
		Clock:    time.Now,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sky wallet service: %w", err)
	}

	submissionSvc, err := services.NewSubmissionService(services.SubmissionServiceDeps{
		Sessions:  registry.Sessions(),
		Receipts:  registry.Receipts(),
		KV:        registry.SessionKV(),
		Cache:     registry.Cache(),
		Commerce:  commerceClient,
		Vault:     vault,
		Encryptor: encryptor,
		Checkout:  cfg.Checkout,
		Clock:     time.Now,
		Logger:    eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build submission service: %w", err)
	}

	return Services{
		Sessions:   sessionSvc,
		Reconciler: reconcilerSvc,
		Gifts:      giftSvc,
		Wallet:     walletSvc,
		Submission: submissionSvc,
	}, nil
}

// serviceEventLogger bridges the service event callback onto zap, preferring
// the request-scoped logger when one is on the context. Values pass through
// the redaction filter so a mislabelled field cannot leak a code or token.
func serviceEventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == nil || logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for name, value := range fields {
			if s, ok := value.(string); ok {
				zapFields = append(zapFields, zap.String(name, observability.RedactField(name, s)))
				continue
			}
			zapFields = append(zapFields, zap.Any(name, value))
		}
		logger.Info(event, zapFields...)
	}
}
