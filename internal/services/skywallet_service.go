package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

const skyWalletField = "skyWallet"

// ErrSkyWalletInvalidAmount indicates a negative application amount.
var ErrSkyWalletInvalidAmount = errors.New("sky wallet: invalid amount")

// SkyWalletServiceDeps wires the dependencies of the balance applicator.
type SkyWalletServiceDeps struct {
	Sessions repositories.SessionRepository
	Cache    repositories.CheckoutCache
	Commerce CommerceGateway
	Vault    cvvVault
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type skyWalletService struct {
	sessions repositories.SessionRepository
	cache    repositories.CheckoutCache
	commerce CommerceGateway
	vault    cvvVault
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSkyWalletService constructs a SkyWalletService validating required dependencies.
func NewSkyWalletService(deps SkyWalletServiceDeps) (SkyWalletService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("sky wallet service: session repository is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("sky wallet service: checkout cache is required")
	}
	if deps.Commerce == nil {
		return nil, errors.New("sky wallet service: commerce gateway is required")
	}
	if deps.Vault == nil {
		return nil, errors.New("sky wallet service: cvv vault is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &skyWalletService{
		sessions: deps.Sessions,
		cache:    deps.Cache,
		commerce: deps.Commerce,
		vault:    deps.Vault,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *skyWalletService) view(session CheckoutSession) SessionView {
	inputs := domain.TabInputs{
		HasIdentity: session.ShopperID != "" && !session.AccountDetails.Loading,
		HasCVV:      s.vault.Has(session.ID),
	}
	return SessionView{Session: session, Tabs: domain.DeriveTabs(session, inputs)}
}

func (s *skyWalletService) load(ctx context.Context, sessionID string) (CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CheckoutSession{}, ErrSessionInvalidInput
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, ErrSessionUnavailable
	}
	return session, nil
}

func (s *skyWalletService) save(ctx context.Context, session CheckoutSession, expected time.Time) error {
	session.UpdatedAt = s.now()
	err := s.sessions.Save(ctx, session, &expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrVersionConflict):
		return ErrSessionConflict
	case errors.Is(err, repositories.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return ErrSessionUnavailable
	}
}

func (s *skyWalletService) balance(ctx context.Context, shopperID string) (SkyWalletBalance, error) {
	balance, err := s.cache.GetBalance(ctx, shopperID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, repositories.ErrCacheMiss) {
		return SkyWalletBalance{}, ErrSessionUnavailable
	}

	balance, err = s.commerce.FetchBalance(ctx, shopperID)
	if err != nil {
		return SkyWalletBalance{}, fmt.Errorf("fetch sky wallet balance: %w", err)
	}
	if cacheErr := s.cache.SetBalance(ctx, shopperID, balance); cacheErr != nil {
		s.logger(ctx, "checkout.skywallet.cache_error", map[string]any{
			"shopper_id": shopperID,
			"error":      cacheErr.Error(),
		})
	}
	return balance, nil
}

func (s *skyWalletService) summary(ctx context.Context, cartID string) (OrderSummary, error) {
	summary, err := s.cache.GetOrderSummary(ctx, cartID)
	if err == nil {
		return summary, nil
	}
	if !errors.Is(err, repositories.ErrCacheMiss) {
		return OrderSummary{}, ErrSessionUnavailable
	}

	summary, err = s.commerce.FetchOrderSummary(ctx, cartID)
	if err != nil {
		return OrderSummary{}, fmt.Errorf("fetch order summary: %w", err)
	}
	summary.FetchedAt = s.now()
	if cacheErr := s.cache.SetOrderSummary(ctx, cartID, summary); cacheErr != nil {
		s.logger(ctx, "checkout.skywallet.cache_error", map[string]any{
			"cart_id": cartID,
			"error":   cacheErr.Error(),
		})
	}
	return summary, nil
}

// Balance returns the shopper's bucketed prepaid balance through the cache.
func (s *skyWalletService) Balance(ctx context.Context, sessionID string) (SkyWalletBalance, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SkyWalletBalance{}, err
	}
	return s.balance(ctx, session.ShopperID)
}

// OrderSummary returns the cart lines and price breakdown through the cache.
func (s *skyWalletService) OrderSummary(ctx context.Context, sessionID string) (OrderSummary, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return OrderSummary{}, err
	}
	return s.summary(ctx, session.CartID)
}

// Apply validates the requested amount against both the remaining balance
// and the remaining order total, then commits it to the session. The
// eligible ceiling excludes what this session has already applied, so
// repeated applications cannot stack past either limit. Requesting zero
// clears the field error without touching the applied amount.
func (s *skyWalletService) Apply(ctx context.Context, cmd ApplySkyWalletCommand) (SessionView, error) {
	if cmd.Amount < 0 {
		return SessionView{}, ErrSkyWalletInvalidAmount
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	if cmd.Amount == 0 {
		loadedAt := session.UpdatedAt
		session.ClearFieldError(skyWalletField)
		if err := s.save(ctx, session, loadedAt); err != nil {
			return SessionView{}, err
		}
		return s.view(session), nil
	}

	balance, err := s.balance(ctx, session.ShopperID)
	if err != nil {
		return SessionView{}, err
	}
	summary, err := s.summary(ctx, session.CartID)
	if err != nil {
		return SessionView{}, err
	}

	remainingBalance := balance.Total() - session.AppliedSkyWallet
	remainingTotal := summary.Breakdown.Total - session.AppliedSkyWallet
	if remainingBalance < 0 {
		remainingBalance = 0
	}
	if remainingTotal < 0 {
		remainingTotal = 0
	}

	loadedAt := session.UpdatedAt
	switch {
	case cmd.Amount > remainingBalance:
		session.FieldError(skyWalletField, fmt.Sprintf(
			"The amount applied cannot be greater than your available balance of %s.",
			domain.FormatUSD(remainingBalance)))
	case cmd.Amount > remainingTotal:
		session.FieldError(skyWalletField, fmt.Sprintf(
			"The amount applied cannot be greater than the order total of %s.",
			domain.FormatUSD(remainingTotal)))
	default:
		session.AppliedSkyWallet += cmd.Amount
		session.ClearFieldError(skyWalletField)
	}

	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	if _, rejected := session.Errors[skyWalletField]; !rejected {
		s.logger(ctx, "checkout.skywallet.applied", map[string]any{
			"session_id": session.ID,
			"amount":     cmd.Amount,
			"applied":    session.AppliedSkyWallet,
		})
	}
	return s.view(session), nil
}
