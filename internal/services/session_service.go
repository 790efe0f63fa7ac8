package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

const (
	kvKeyGiftMessage      = "giftMessage"
	kvKeyTastingSelection = "tastingEventSelection"

	minimumShopperAge = 21
)

var (
	// ErrSessionInvalidInput indicates the caller supplied invalid input parameters.
	ErrSessionInvalidInput = errors.New("session: invalid input")
	// ErrSessionNotFound indicates no session exists for the id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionConflict indicates a concurrent writer updated the session first.
	ErrSessionConflict = errors.New("session: conflict")
	// ErrSessionUnavailable indicates session dependencies are currently unavailable.
	ErrSessionUnavailable = errors.New("session: unavailable")
	// ErrSessionUnderage indicates the supplied date of birth is below the purchase age.
	ErrSessionUnderage = errors.New("session: shopper must be 21 or older")
)

var validate = validator.New()

// cvvVault abstracts the process-local verification-code store.
type cvvVault interface {
	Put(sessionID, code string)
	Peek(sessionID string) (string, bool)
	Has(sessionID string) bool
	Delete(sessionID string)
}

// SessionServiceDeps wires the dependencies required by the session service.
type SessionServiceDeps struct {
	Sessions repositories.SessionRepository
	Receipts repositories.ReceiptRepository
	KV       repositories.SessionKV
	Cache    repositories.CheckoutCache
	Commerce CommerceGateway
	Vault    cvvVault
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	IDGen    func() string
}

type sessionService struct {
	sessions repositories.SessionRepository
	receipts repositories.ReceiptRepository
	kv       repositories.SessionKV
	cache    repositories.CheckoutCache
	commerce CommerceGateway
	vault    cvvVault
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	idgen    func() string
}

// NewSessionService constructs a SessionService validating required dependencies.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session service: session repository is required")
	}
	if deps.Receipts == nil {
		return nil, errors.New("session service: receipt repository is required")
	}
	if deps.KV == nil {
		return nil, errors.New("session service: session kv is required")
	}
	if deps.Commerce == nil {
		return nil, errors.New("session service: commerce gateway is required")
	}
	if deps.Vault == nil {
		return nil, errors.New("session service: cvv vault is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idgen := deps.IDGen
	if idgen == nil {
		idgen = func() string { return ulid.Make().String() }
	}

	return &sessionService{
		sessions: deps.Sessions,
		receipts: deps.Receipts,
		kv:       deps.KV,
		cache:    deps.Cache,
		commerce: deps.Commerce,
		vault:    deps.Vault,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		idgen:  idgen,
	}, nil
}

func (s *sessionService) view(session CheckoutSession) SessionView {
	inputs := domain.TabInputs{
		HasIdentity: session.ShopperID != "" && !session.AccountDetails.Loading,
		HasCVV:      s.vault.Has(session.ID),
	}
	return SessionView{
		Session: session,
		Tabs:    domain.DeriveTabs(session, inputs),
	}
}

func (s *sessionService) load(ctx context.Context, sessionID string) (CheckoutSession, error) {
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

func (s *sessionService) save(ctx context.Context, session CheckoutSession, expected time.Time) error {
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

// StartSession creates an empty session for the cart. Any receipt or vaulted
// code left from the shopper's previous checkout is cleared first.
func (s *sessionService) StartSession(ctx context.Context, cmd StartSessionCommand) (SessionView, error) {
	shopperID := strings.TrimSpace(cmd.ShopperID)
	cartID := strings.TrimSpace(cmd.CartID)
	if shopperID == "" || cartID == "" {
		return SessionView{}, ErrSessionInvalidInput
	}

	if prev := strings.TrimSpace(cmd.PreviousSessionID); prev != "" {
		if err := s.receipts.Delete(ctx, prev); err != nil {
			s.logger(ctx, "checkout.session.receipt_clear_failed", map[string]any{
				"session_id": prev,
				"error":      err.Error(),
			})
		}
		s.vault.Delete(prev)
	}

	now := s.now()
	session := CheckoutSession{
		ID:                s.idgen(),
		ShopperID:         shopperID,
		CartID:            cartID,
		IsGuest:           cmd.IsGuest,
		ReplicatedSiteURL: strings.TrimSpace(cmd.ReplicatedSiteURL),
		AccountDetails:    AccountDetails{Email: strings.TrimSpace(cmd.Email)},
		Epoch:             1,
		CallSeq:           map[string]uint64{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.sessions.Save(ctx, session, nil); err != nil {
		return SessionView{}, ErrSessionUnavailable
	}

	s.logger(ctx, "checkout.session.started", map[string]any{
		"session_id": session.ID,
		"cart_id":    session.CartID,
		"guest":      session.IsGuest,
	})
	return s.view(session), nil
}

// GetSession loads the session and derives tab state.
func (s *sessionService) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// UpdateAccountDetails writes the contact-information fields after checking
// the email shape and the purchase-age floor.
func (s *sessionService) UpdateAccountDetails(ctx context.Context, cmd UpdateAccountDetailsCommand) (SessionView, error) {
	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	email := strings.TrimSpace(cmd.Email)
	if email != "" {
		if err := validate.Var(email, "email"); err != nil {
			return SessionView{}, ErrSessionInvalidInput
		}
	}

	dob := strings.TrimSpace(cmd.DateOfBirth)
	if dob != "" {
		born, err := time.Parse("2006-01-02", dob)
		if err != nil {
			return SessionView{}, ErrSessionInvalidInput
		}
		if yearsBetween(born, s.now()) < minimumShopperAge {
			return SessionView{}, ErrSessionUnderage
		}
	}

	loadedAt := session.UpdatedAt
	session.AccountDetails = AccountDetails{
		FullName:    strings.TrimSpace(cmd.FullName),
		Email:       email,
		DateOfBirth: dob,
	}
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

func yearsBetween(born, now time.Time) int {
	years := now.Year() - born.Year()
	anniversary := born.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// SelectCreditCard activates a stored payment instrument by token, enriching
// card metadata from the cached account snapshot when available.
func (s *sessionService) SelectCreditCard(ctx context.Context, cmd SelectCreditCardCommand) (SessionView, error) {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return SessionView{}, ErrSessionInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	card := CreditCard{Token: token}
	if s.cache != nil {
		if snapshot, err := s.cache.GetAccountSnapshot(ctx, session.CartID); err == nil {
			for _, stored := range snapshot.CreditCards {
				if stored.Token == token {
					card = stored
					break
				}
			}
		}
	}

	// A card change invalidates the token the backend holds for the cart.
	// When an address is already bound server-side, re-apply the selection
	// pair before committing the card locally.
	if addr := session.ActiveShippingAddress; addr != nil && addr.IsPersisted() {
		if err := s.commerce.ApplyCheckoutSelections(ctx, commerce.ApplyCheckoutSelectionsRequest{
			CartID:          session.CartID,
			AddressID:       addr.ID,
			PaymentToken:    card.Token,
			PersonDisplayID: session.ShopperID,
		}); err != nil {
			return s.view(session), fmt.Errorf("select credit card: %w", err)
		}
	}

	loadedAt := session.UpdatedAt
	session.ActiveCreditCard = &card
	session.IsAddingCreditCard = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// SetAddingCreditCard toggles the new-card form.
func (s *sessionService) SetAddingCreditCard(ctx context.Context, sessionID string, adding bool) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	session.IsAddingCreditCard = adding
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// SetCVV stores the verification code in the process-local vault. The code
// is intentionally absent from the persisted aggregate.
func (s *sessionService) SetCVV(ctx context.Context, cmd SetCVVCommand) (SessionView, error) {
	code := strings.TrimSpace(cmd.CVV)
	if err := validate.Var(code, "required,numeric,min=3,max=4"); err != nil {
		return SessionView{}, ErrSessionInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.vault.Put(session.ID, code)
	return s.view(session), nil
}

// ImportCart replaces the active cart with a shared or VIP import. The epoch
// bump invalidates any in-flight reconciliation against the old cart.
func (s *sessionService) ImportCart(ctx context.Context, cmd ImportCartCommand) (SessionView, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return SessionView{}, ErrSessionInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	s.clearCheckoutState(ctx, &session)
	session.CartID = cartID
	if siteURL := strings.TrimSpace(cmd.ReplicatedSiteURL); siteURL != "" {
		session.ReplicatedSiteURL = siteURL
	}
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.session.cart_imported", map[string]any{
		"session_id": session.ID,
		"cart_id":    cartID,
		"epoch":      session.Epoch,
	})
	return s.view(session), nil
}

// Reset clears the session back to its empty state.
func (s *sessionService) Reset(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	s.clearCheckoutState(ctx, &session)
	session.CartID = ""
	session.ReplicatedSiteURL = ""
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.session.reset", map[string]any{
		"session_id": session.ID,
		"epoch":      session.Epoch,
	})
	return s.view(session), nil
}

// clearCheckoutState wipes everything below the shopper identity. The epoch
// increments so stale in-flight results cannot resurrect cleared state.
func (s *sessionService) clearCheckoutState(ctx context.Context, session *CheckoutSession) {
	session.GiftMessage = nil
	session.ActiveShippingAddress = nil
	session.GuestAddress = nil
	session.IsAddingAddress = false
	session.IsAddingCreditCard = false
	session.IsAddingGiftMessage = false
	session.ActiveCreditCard = nil
	session.AppliedSkyWallet = 0
	session.IsPickUp = false
	session.SelectedPickUpOption = ""
	session.SelectedPickUpAddress = nil
	session.ActiveShippingMethodID = ""
	session.Errors = nil
	session.CallSeq = map[string]uint64{}
	session.Submitting = false
	session.Epoch++

	s.vault.Delete(session.ID)
	if err := s.kv.Delete(ctx, session.ID, kvKeyGiftMessage); err != nil {
		s.logger(ctx, "checkout.session.kv_clear_failed", map[string]any{
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}
}

// SetTastingSelection stores an opaque tasting-event selection.
func (s *sessionService) SetTastingSelection(ctx context.Context, sessionID, value string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, session.ID, kvKeyTastingSelection, value); err != nil {
		return ErrSessionUnavailable
	}
	return nil
}

// TastingSelection reads the stored tasting-event selection; absence is an
// empty value, not an error.
func (s *sessionService) TastingSelection(ctx context.Context, sessionID string) (string, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	value, err := s.kv.Get(ctx, session.ID, kvKeyTastingSelection)
	if errors.Is(err, repositories.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", ErrSessionUnavailable
	}
	return value, nil
}
