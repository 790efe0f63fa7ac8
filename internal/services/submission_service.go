package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/config"
	"github.com/clairmont-cellars/api/internal/repositories"
)

var (
	// ErrSubmissionInProgress indicates a submission is already running for
	// the session; duplicate submits must not reach the payment backend.
	ErrSubmissionInProgress = errors.New("submission: already in progress")
	// ErrSubmissionMissingCVV indicates the verification code expired or was
	// never captured; the shopper has to re-enter it.
	ErrSubmissionMissingCVV = errors.New("submission: card verification code required")
	// ErrSubmissionNotReady indicates the checkout is missing a delivery
	// selection and cannot be submitted.
	ErrSubmissionNotReady = errors.New("submission: checkout incomplete")
)

// cvvEncryptor seals the verification code for the single payment call.
type cvvEncryptor interface {
	Encrypt(code string) (string, error)
}

// SubmissionServiceDeps wires the dependencies of the order submission sequencer.
type SubmissionServiceDeps struct {
	Sessions  repositories.SessionRepository
	Receipts  repositories.ReceiptRepository
	KV        repositories.SessionKV
	Cache     repositories.CheckoutCache
	Commerce  CommerceGateway
	Vault     cvvVault
	Encryptor cvvEncryptor
	Checkout  config.CheckoutConfig
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type submissionService struct {
	sessions    repositories.SessionRepository
	receipts    repositories.ReceiptRepository
	kv          repositories.SessionKV
	cache       repositories.CheckoutCache
	commerce    CommerceGateway
	vault       cvvVault
	encryptor   cvvEncryptor
	defaultSite string
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewSubmissionService constructs a SubmissionService validating required dependencies.
func NewSubmissionService(deps SubmissionServiceDeps) (SubmissionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("submission service: session repository is required")
	}
	if deps.Receipts == nil {
		return nil, errors.New("submission service: receipt repository is required")
	}
	if deps.KV == nil {
		return nil, errors.New("submission service: session kv store is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("submission service: checkout cache is required")
	}
	if deps.Commerce == nil {
		return nil, errors.New("submission service: commerce gateway is required")
	}
	if deps.Vault == nil {
		return nil, errors.New("submission service: cvv vault is required")
	}
	if deps.Encryptor == nil {
		return nil, errors.New("submission service: cvv encryptor is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &submissionService{
		sessions:    deps.Sessions,
		receipts:    deps.Receipts,
		kv:          deps.KV,
		cache:       deps.Cache,
		commerce:    deps.Commerce,
		vault:       deps.Vault,
		encryptor:   deps.Encryptor,
		defaultSite: deps.Checkout.DefaultConsultantURL,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *submissionService) load(ctx context.Context, sessionID string) (CheckoutSession, error) {
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

func (s *submissionService) save(ctx context.Context, session CheckoutSession, expected time.Time) error {
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

// Submit runs the terminal sequence. Payment is the irreversible step: on
// any failure before or during it the session survives with the verification
// code intact, while everything after a successful charge is best-effort and
// can only be logged, never surfaced as a submission failure.
func (s *submissionService) Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitResult, error) {
	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if session.Submitting {
		return SubmitResult{}, ErrSubmissionInProgress
	}
	if session.DeliveryAddress() == nil || session.ActiveShippingMethodID == "" {
		return SubmitResult{}, ErrSubmissionNotReady
	}

	code, ok := s.vault.Peek(session.ID)
	if !ok {
		return SubmitResult{}, ErrSubmissionMissingCVV
	}
	sealed, err := s.encryptor.Encrypt(code)
	if err != nil {
		return SubmitResult{}, ErrSessionUnavailable
	}

	// The duplicate guard is claimed through the optimistic save, so two
	// racing submits cannot both pass it.
	loadedAt := session.UpdatedAt
	session.Submitting = true
	if err := s.save(ctx, session, loadedAt); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			return SubmitResult{}, ErrSubmissionInProgress
		}
		return SubmitResult{}, err
	}
	session, err = s.load(ctx, cmd.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	// The receipt is assembled from what the shopper confirmed on screen,
	// so the summary must exist before payment, not be refetched after.
	summary, err := s.orderSummary(ctx, session.CartID)
	if err != nil {
		s.releaseSubmitting(ctx, session.ID)
		return SubmitResult{}, err
	}

	// Orders placed outside a consultant's replicated storefront are
	// attributed to the house site.
	siteURL := strings.TrimSpace(session.ReplicatedSiteURL)
	if siteURL == "" {
		siteURL = s.defaultSite
	}

	orderDisplayID, err := s.commerce.PayForOrder(ctx, commerce.PayForOrderRequest{
		CartID:            session.CartID,
		EncryptedCVV:      sealed,
		SkyWalletAmount:   session.AppliedSkyWallet,
		ReplicatedSiteURL: siteURL,
	})
	if err != nil {
		// Declines come back as envelope errors; the session and the vaulted
		// code stay intact so the shopper can correct and retry.
		s.releaseSubmitting(ctx, session.ID)
		return SubmitResult{}, fmt.Errorf("pay for order: %w", err)
	}

	s.logger(ctx, "checkout.submission.paid", map[string]any{
		"session_id":       session.ID,
		"order_display_id": orderDisplayID,
	})

	if gift := session.GiftMessage; gift != nil {
		if err := s.commerce.AddGiftMessage(ctx, orderDisplayID, *gift); err != nil {
			s.logger(ctx, "checkout.submission.gift_message_failed", map[string]any{
				"order_display_id": orderDisplayID,
				"error":            err.Error(),
			})
		}
	}

	receipt := s.buildReceipt(ctx, session, summary, orderDisplayID, siteURL)
	if err := s.receipts.Save(ctx, session.ID, receipt); err != nil {
		s.logger(ctx, "checkout.submission.receipt_save_failed", map[string]any{
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}

	if addr := session.DeliveryAddress(); addr != nil && addr.IsPersisted() && session.ShopperID != "" {
		if err := s.commerce.SaveLastUsedAddress(ctx, session.ShopperID, *addr); err != nil {
			s.logger(ctx, "checkout.submission.last_used_address_failed", map[string]any{
				"shopper_id": session.ShopperID,
				"error":      err.Error(),
			})
		}
	}

	s.teardown(ctx, session)

	return SubmitResult{
		Receipt:  receipt,
		Redirect: "/checkout/confirmation/" + url.PathEscape(orderDisplayID),
	}, nil
}

func (s *submissionService) releaseSubmitting(ctx context.Context, sessionID string) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return
	}
	loadedAt := session.UpdatedAt
	session.Submitting = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		s.logger(ctx, "checkout.submission.release_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (s *submissionService) orderSummary(ctx context.Context, cartID string) (OrderSummary, error) {
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
	return summary, nil
}

func (s *submissionService) buildReceipt(ctx context.Context, session CheckoutSession, summary OrderSummary, orderDisplayID, siteURL string) Receipt {
	breakdown := summary.Breakdown
	breakdown.SkyWallet = session.AppliedSkyWallet

	var delivery Address
	if addr := session.DeliveryAddress(); addr != nil {
		delivery = *addr
	}

	return Receipt{
		OrderDisplayID:     orderDisplayID,
		Lines:              summary.Lines,
		DeliveryAddress:    delivery,
		DeliveryMethodName: s.methodDisplayName(ctx, session),
		Consultant:         consultantFromSiteURL(siteURL),
		Breakdown:          breakdown,
		DisplayTotal:       domain.FormatUSD(breakdown.AmountDue()),
		CreatedAt:          s.now(),
	}
}

func (s *submissionService) methodDisplayName(ctx context.Context, session CheckoutSession) string {
	methods, err := s.cache.GetShippingMethods(ctx, session.CartID)
	if errors.Is(err, repositories.ErrCacheMiss) {
		methods, err = s.commerce.FetchShippingMethods(ctx, session.CartID)
	}
	if err != nil {
		return ""
	}
	for _, method := range methods {
		if method.ID == session.ActiveShippingMethodID {
			return method.DisplayName
		}
	}
	return ""
}

// consultantFromSiteURL extracts the consultant slug from the replicated
// storefront URL, e.g. https://shop.example.com/dana -> "dana".
func consultantFromSiteURL(siteURL string) string {
	if siteURL == "" {
		return ""
	}
	parsed, err := url.Parse(siteURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// teardown clears the consumed checkout. Every step here is best-effort;
// the order already exists and nothing may fail the submission anymore.
func (s *submissionService) teardown(ctx context.Context, session CheckoutSession) {
	cartID := session.CartID
	guest := session.IsGuest
	shopperID := session.ShopperID

	provinceKey := ""
	if addr := session.DeliveryAddress(); addr != nil {
		provinceKey = strconv.Itoa(addr.ProvinceID)
	}

	s.vault.Delete(session.ID)
	if err := s.kv.Delete(ctx, session.ID, kvKeyGiftMessage); err != nil {
		s.logger(ctx, "checkout.submission.kv_cleanup_failed", map[string]any{
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}

	reset := domain.CheckoutSession{
		ID:             session.ID,
		ShopperID:      session.ShopperID,
		IsGuest:        session.IsGuest,
		AccountDetails: session.AccountDetails,
		Epoch:          session.Epoch + 1,
		CallSeq:        map[string]uint64{},
		CreatedAt:      session.CreatedAt,
	}
	if err := s.save(ctx, reset, session.UpdatedAt); err != nil {
		s.logger(ctx, "checkout.submission.reset_failed", map[string]any{
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}

	if err := s.cache.InvalidateCart(ctx, cartID, provinceKey); err != nil {
		s.logger(ctx, "checkout.submission.cache_invalidate_failed", map[string]any{
			"cart_id": cartID,
			"error":   err.Error(),
		})
	}

	if guest && shopperID != "" {
		token, err := s.commerce.FetchCSRFToken(ctx)
		if err == nil {
			err = s.commerce.SignOutGuest(ctx, shopperID, token)
		}
		if err != nil {
			s.logger(ctx, "checkout.submission.guest_signout_failed", map[string]any{
				"shopper_id": shopperID,
				"error":      err.Error(),
			})
		}
	}
}

// Receipt reads the frozen receipt for the confirmation view.
func (s *submissionService) Receipt(ctx context.Context, sessionID string) (Receipt, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Receipt{}, ErrSessionInvalidInput
	}
	receipt, err := s.receipts.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrReceiptNotFound) {
			return Receipt{}, repositories.ErrReceiptNotFound
		}
		return Receipt{}, ErrSessionUnavailable
	}
	return receipt, nil
}
