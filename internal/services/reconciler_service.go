package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/config"
	"github.com/clairmont-cellars/api/internal/repositories"
	"github.com/clairmont-cellars/api/internal/widget"
)

var (
	// ErrReconcilerInvalidInput indicates the caller supplied invalid input parameters.
	ErrReconcilerInvalidInput = errors.New("reconciler: invalid input")
	// ErrReconcilerUnavailable indicates reconciler dependencies are currently unavailable.
	ErrReconcilerUnavailable = errors.New("reconciler: unavailable")
	// ErrAddressUnresolved indicates a created address could not be resolved
	// from the account snapshot even after the hinted refetch.
	ErrAddressUnresolved = errors.New("reconciler: created address unresolved")
	// ErrStaleReconciliation indicates the call's result arrived after a newer
	// call of the same kind (or an epoch change) and was discarded.
	ErrStaleReconciliation = errors.New("reconciler: stale result discarded")
)

// ReconcilerServiceDeps wires the dependencies required by the reconciler.
type ReconcilerServiceDeps struct {
	Sessions repositories.SessionRepository
	Cache    repositories.CheckoutCache
	Commerce CommerceGateway
	Widget   *widget.Bus
	Vault    cvvVault
	Checkout config.CheckoutConfig
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type reconcilerService struct {
	sessions repositories.SessionRepository
	cache    repositories.CheckoutCache
	commerce CommerceGateway
	widget   *widget.Bus
	vault    cvvVault
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	pickUpMethodIDs map[PickUpOption]string
	sessionTTL      time.Duration

	mu   sync.Mutex
	subs map[string]widgetSub
}

// widgetSub pairs a bus subscription with the timer that reaps it when the
// session's own TTL elapses without the subscription being cancelled.
type widgetSub struct {
	cancel func()
	expiry *time.Timer
}

func (w widgetSub) stop() {
	if w.expiry != nil {
		w.expiry.Stop()
	}
	w.cancel()
}

// NewReconcilerService constructs a ReconcilerService validating required dependencies.
func NewReconcilerService(deps ReconcilerServiceDeps) (ReconcilerService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("reconciler service: session repository is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("reconciler service: checkout cache is required")
	}
	if deps.Commerce == nil {
		return nil, errors.New("reconciler service: commerce gateway is required")
	}
	if deps.Widget == nil {
		return nil, errors.New("reconciler service: widget bus is required")
	}
	if deps.Vault == nil {
		return nil, errors.New("reconciler service: cvv vault is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconcilerService{
		sessions: deps.Sessions,
		cache:    deps.Cache,
		commerce: deps.Commerce,
		widget:   deps.Widget,
		vault:    deps.Vault,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		pickUpMethodIDs: map[PickUpOption]string{
			domain.PickUpLocal:          deps.Checkout.PickUpLocalMethodID,
			domain.PickUpHoldAtLocation: deps.Checkout.PickUpHALMethodID,
			domain.PickUpABCStore:       deps.Checkout.PickUpABCStoreMethodID,
		},
		sessionTTL: deps.Checkout.SessionTTL,
		subs:       make(map[string]widgetSub),
	}, nil
}

func (s *reconcilerService) view(session CheckoutSession) SessionView {
	inputs := domain.TabInputs{
		HasIdentity: session.ShopperID != "" && !session.AccountDetails.Loading,
		HasCVV:      s.vault.Has(session.ID),
	}
	return SessionView{Session: session, Tabs: domain.DeriveTabs(session, inputs)}
}

func (s *reconcilerService) load(ctx context.Context, sessionID string) (CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CheckoutSession{}, ErrReconcilerInvalidInput
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, ErrReconcilerUnavailable
	}
	return session, nil
}

func (s *reconcilerService) save(ctx context.Context, session CheckoutSession, expected time.Time) error {
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
		return ErrReconcilerUnavailable
	}
}

// claimSeq bumps and persists the call sequence for the kind, marking this
// call as the newest of its kind before the network round trip begins.
func (s *reconcilerService) claimSeq(ctx context.Context, session *CheckoutSession, kind string) (uint64, error) {
	loadedAt := session.UpdatedAt
	if session.CallSeq == nil {
		session.CallSeq = map[string]uint64{}
	}
	session.CallSeq[kind]++
	seq := session.CallSeq[kind]
	if err := s.save(ctx, *session, loadedAt); err != nil {
		return 0, err
	}
	refreshed, err := s.load(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	*session = refreshed
	return seq, nil
}

// reloadCurrent reloads the session and reports whether the call identified
// by (epoch, kind, seq) is still the newest of its kind.
func (s *reconcilerService) reloadCurrent(ctx context.Context, sessionID string, epoch uint64, kind string, seq uint64) (CheckoutSession, bool, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return CheckoutSession{}, false, err
	}
	if session.Epoch != epoch || session.CallSeq[kind] != seq {
		return session, false, nil
	}
	return session, true, nil
}

// applySelections binds the persisted address and the current payment token
// as the backend's authoritative selection for the cart. Every registered
// path that changes the active address must land here; a selection held only
// in the session would never reach the order.
func (s *reconcilerService) applySelections(ctx context.Context, session CheckoutSession, addressID int64) error {
	paymentToken := ""
	if session.ActiveCreditCard != nil {
		paymentToken = session.ActiveCreditCard.Token
	}
	return s.commerce.ApplyCheckoutSelections(ctx, commerce.ApplyCheckoutSelectionsRequest{
		CartID:          session.CartID,
		AddressID:       addressID,
		PaymentToken:    paymentToken,
		PersonDisplayID: session.ShopperID,
	})
}

func (s *reconcilerService) snapshot(ctx context.Context, cartID string, hint int64) (AccountSnapshot, error) {
	if hint == 0 {
		if cached, err := s.cache.GetAccountSnapshot(ctx, cartID); err == nil {
			return cached, nil
		} else if !errors.Is(err, repositories.ErrCacheMiss) {
			s.logger(ctx, "checkout.reconciler.snapshot_cache_error", map[string]any{
				"cart_id": cartID,
				"error":   err.Error(),
			})
		}
	}

	snapshot, err := s.commerce.FetchAccountSnapshot(ctx, cartID, hint)
	if err != nil {
		return AccountSnapshot{}, err
	}
	if err := s.cache.SetAccountSnapshot(ctx, cartID, snapshot); err != nil {
		s.logger(ctx, "checkout.reconciler.snapshot_cache_error", map[string]any{
			"cart_id": cartID,
			"error":   err.Error(),
		})
	}
	return snapshot, nil
}

// AccountSnapshot reads the cached address/credit-card list for the cart.
func (s *reconcilerService) AccountSnapshot(ctx context.Context, sessionID string) (AccountSnapshot, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return AccountSnapshot{}, err
	}
	return s.snapshot(ctx, session.CartID, 0)
}

// ListShippingMethods returns the cart's shipping methods. Pick-up-only
// identifiers are filtered out for guests, who have no stored address to
// collect against.
func (s *reconcilerService) ListShippingMethods(ctx context.Context, sessionID string) ([]ShippingMethod, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	methods, err := s.cache.GetShippingMethods(ctx, session.CartID)
	if errors.Is(err, repositories.ErrCacheMiss) {
		methods, err = s.commerce.FetchShippingMethods(ctx, session.CartID)
		if err != nil {
			return nil, fmt.Errorf("list shipping methods: %w", err)
		}
		if cacheErr := s.cache.SetShippingMethods(ctx, session.CartID, methods); cacheErr != nil {
			s.logger(ctx, "checkout.reconciler.methods_cache_error", map[string]any{
				"cart_id": session.CartID,
				"error":   cacheErr.Error(),
			})
		}
	} else if err != nil {
		return nil, ErrReconcilerUnavailable
	}

	if !session.IsGuest {
		return methods, nil
	}

	pickUpIDs := make(map[string]struct{}, len(s.pickUpMethodIDs))
	for _, id := range s.pickUpMethodIDs {
		pickUpIDs[id] = struct{}{}
	}
	filtered := make([]ShippingMethod, 0, len(methods))
	for _, method := range methods {
		if _, pickUpOnly := pickUpIDs[method.ID]; pickUpOnly {
			continue
		}
		filtered = append(filtered, method)
	}
	return filtered, nil
}

func validateAddress(addr Address) error {
	switch {
	case strings.TrimSpace(addr.FirstName) == "",
		strings.TrimSpace(addr.LastName) == "",
		strings.TrimSpace(addr.Street1) == "",
		strings.TrimSpace(addr.City) == "",
		strings.TrimSpace(addr.PostalCode) == "",
		addr.ProvinceID == 0:
		return ErrReconcilerInvalidInput
	}
	return validate.Var(addr.PostalCode, "min=5")
}

// SubmitGuestAddress records the guest's address on the session only; the
// backend never stores it beyond the single order.
func (s *reconcilerService) SubmitGuestAddress(ctx context.Context, cmd GuestAddressCommand) (SessionView, error) {
	if err := validateAddress(cmd.Address); err != nil {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	addr := cmd.Address
	session.GuestAddress = &addr
	session.IsAddingAddress = false
	session.IsPickUp = false
	session.SelectedPickUpOption = domain.PickUpNone
	session.SelectedPickUpAddress = nil
	session.ClearFieldError("address")
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// SetAddingAddress toggles the new-address form.
func (s *reconcilerService) SetAddingAddress(ctx context.Context, sessionID string, adding bool) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	session.IsAddingAddress = adding
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// CreateAddress creates the address server-side, then resolves the
// authoritative record through the account snapshot. When the fresh record
// has not reached the cached list yet, the cache is invalidated and
// refetched with an address hint before matching again; skipping that
// refetch would leave the active address undefined despite a successful
// creation.
func (s *reconcilerService) CreateAddress(ctx context.Context, cmd CreateAddressCommand) (SessionView, error) {
	if err := validateAddress(cmd.Address); err != nil {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	epoch := session.Epoch
	if !session.IsAddingAddress {
		loadedAt := session.UpdatedAt
		session.IsAddingAddress = true
		if err := s.save(ctx, session, loadedAt); err != nil {
			return SessionView{}, err
		}
		session, err = s.load(ctx, cmd.SessionID)
		if err != nil {
			return SessionView{}, err
		}
	}
	seq, err := s.claimSeq(ctx, &session, CallKindAddressCreate)
	if err != nil {
		return SessionView{}, err
	}

	addressID, err := s.commerce.CreateShippingAddress(ctx, session.CartID, cmd.Address)
	if err != nil {
		// The form stays open: IsAddingAddress was persisted before the call.
		current, loadErr := s.load(ctx, cmd.SessionID)
		if loadErr != nil {
			return SessionView{}, loadErr
		}
		return s.view(current), fmt.Errorf("create address: %w", err)
	}

	resolved, err := s.resolveCreatedAddress(ctx, session.CartID, addressID)
	if err != nil {
		current, loadErr := s.load(ctx, cmd.SessionID)
		if loadErr != nil {
			return SessionView{}, loadErr
		}
		return s.view(current), err
	}

	session, current, err := s.reloadCurrent(ctx, cmd.SessionID, epoch, CallKindAddressCreate, seq)
	if err != nil {
		return SessionView{}, err
	}
	if !current {
		s.logger(ctx, "checkout.reconciler.stale_discarded", map[string]any{
			"session_id": cmd.SessionID,
			"kind":       CallKindAddressCreate,
		})
		return s.view(session), ErrStaleReconciliation
	}

	if err := s.applySelections(ctx, session, resolved.ID); err != nil {
		return s.view(session), fmt.Errorf("create address: %w", err)
	}

	loadedAt := session.UpdatedAt
	session.ActiveShippingAddress = &resolved
	session.IsAddingAddress = false
	session.GuestAddress = nil
	session.ClearFieldError("address")
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.reconciler.address_created", map[string]any{
		"session_id": session.ID,
		"address_id": resolved.ID,
	})
	return s.view(session), nil
}

// resolveCreatedAddress runs the mandatory two-phase lookup: direct cache
// match first, then an invalidate-and-hinted-refetch before matching again.
func (s *reconcilerService) resolveCreatedAddress(ctx context.Context, cartID string, addressID int64) (Address, error) {
	snapshot, err := s.snapshot(ctx, cartID, 0)
	if err != nil {
		return Address{}, fmt.Errorf("resolve created address: %w", err)
	}
	if addr, ok := snapshot.AddressByID(addressID); ok {
		return addr, nil
	}

	if err := s.cache.DeleteAccountSnapshot(ctx, cartID); err != nil {
		s.logger(ctx, "checkout.reconciler.snapshot_cache_error", map[string]any{
			"cart_id": cartID,
			"error":   err.Error(),
		})
	}
	snapshot, err = s.snapshot(ctx, cartID, addressID)
	if err != nil {
		return Address{}, fmt.Errorf("resolve created address: %w", err)
	}
	if addr, ok := snapshot.AddressByID(addressID); ok {
		return addr, nil
	}
	return Address{}, ErrAddressUnresolved
}

// SelectAddress activates one of the shopper's stored addresses.
func (s *reconcilerService) SelectAddress(ctx context.Context, cmd SelectAddressCommand) (SessionView, error) {
	if cmd.AddressID <= 0 {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	snapshot, err := s.snapshot(ctx, session.CartID, 0)
	if err != nil {
		return SessionView{}, fmt.Errorf("select address: %w", err)
	}
	addr, ok := snapshot.AddressByID(cmd.AddressID)
	if !ok {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	if err := s.applySelections(ctx, session, addr.ID); err != nil {
		return s.view(session), fmt.Errorf("select address: %w", err)
	}

	loadedAt := session.UpdatedAt
	session.ActiveShippingAddress = &addr
	session.GuestAddress = nil
	session.IsAddingAddress = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// SelectShippingMethod updates the cart's shipping method. The new method is
// committed only after the backend accepts it; failure leaves the prior
// method active.
func (s *reconcilerService) SelectShippingMethod(ctx context.Context, cmd SelectShippingMethodCommand) (SessionView, error) {
	methodID := strings.TrimSpace(cmd.ShippingMethodID)
	if methodID == "" {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	epoch := session.Epoch
	seq, err := s.claimSeq(ctx, &session, CallKindShippingMethod)
	if err != nil {
		return SessionView{}, err
	}

	if _, err := s.commerce.UpdateShippingMethod(ctx, session.CartID, methodID); err != nil {
		current, loadErr := s.load(ctx, cmd.SessionID)
		if loadErr != nil {
			return SessionView{}, loadErr
		}
		return s.view(current), fmt.Errorf("update shipping method: %w", err)
	}

	session, current, err := s.reloadCurrent(ctx, cmd.SessionID, epoch, CallKindShippingMethod, seq)
	if err != nil {
		return SessionView{}, err
	}
	if !current {
		return s.view(session), ErrStaleReconciliation
	}

	loadedAt := session.UpdatedAt
	session.ActiveShippingMethodID = methodID
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	// Totals changed; the next summary read must refetch.
	if err := s.cache.DeleteOrderSummary(ctx, session.CartID); err != nil {
		s.logger(ctx, "checkout.reconciler.summary_cache_error", map[string]any{
			"cart_id": session.CartID,
			"error":   err.Error(),
		})
	}
	return s.view(session), nil
}

// SelectPickUpOption switches between the mutually exclusive pick-up modes.
// The mode (and its backend shipping method) commits only after the method
// update succeeds, so a failed update cannot silently switch pick-up state.
func (s *reconcilerService) SelectPickUpOption(ctx context.Context, cmd PickUpOptionCommand) (SessionView, error) {
	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	if cmd.Option == domain.PickUpNone {
		s.unsubscribeWidget(session.ID)
		loadedAt := session.UpdatedAt
		session.IsPickUp = false
		session.SelectedPickUpOption = domain.PickUpNone
		session.SelectedPickUpAddress = nil
		if err := s.save(ctx, session, loadedAt); err != nil {
			return SessionView{}, err
		}
		return s.view(session), nil
	}

	if !cmd.Option.Valid() {
		return SessionView{}, ErrReconcilerInvalidInput
	}
	methodID := s.pickUpMethodIDs[cmd.Option]

	epoch := session.Epoch
	seq, err := s.claimSeq(ctx, &session, CallKindShippingMethod)
	if err != nil {
		return SessionView{}, err
	}

	if _, err := s.commerce.UpdateShippingMethod(ctx, session.CartID, methodID); err != nil {
		current, loadErr := s.load(ctx, cmd.SessionID)
		if loadErr != nil {
			return SessionView{}, loadErr
		}
		return s.view(current), fmt.Errorf("update shipping method: %w", err)
	}

	session, current, err := s.reloadCurrent(ctx, cmd.SessionID, epoch, CallKindShippingMethod, seq)
	if err != nil {
		return SessionView{}, err
	}
	if !current {
		return s.view(session), ErrStaleReconciliation
	}

	loadedAt := session.UpdatedAt
	switching := session.SelectedPickUpOption != cmd.Option
	session.IsPickUp = true
	session.SelectedPickUpOption = cmd.Option
	if switching {
		session.SelectedPickUpAddress = nil
	}
	session.ActiveShippingMethodID = methodID
	session.GuestAddress = nil
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	if cmd.Option == domain.PickUpHoldAtLocation {
		s.subscribeWidget(session)
	} else {
		s.unsubscribeWidget(session.ID)
	}

	if err := s.cache.DeleteOrderSummary(ctx, session.CartID); err != nil {
		s.logger(ctx, "checkout.reconciler.summary_cache_error", map[string]any{
			"cart_id": session.CartID,
			"error":   err.Error(),
		})
	}
	return s.view(session), nil
}

// subscribeWidget ties a collect-point listener to the session. Events are
// translated into the internal address shape at the boundary and applied
// through ConfirmCollectPoint. The subscription never outlives the session:
// an expiry timer bounded by the session TTL reaps it, and an event arriving
// for a session that no longer loads tears it down immediately.
func (s *reconcilerService) subscribeWidget(session CheckoutSession) {
	events, cancel := s.widget.Subscribe(session.ID)
	sessionID := session.ID

	sub := widgetSub{cancel: cancel}
	if s.sessionTTL > 0 {
		sub.expiry = time.AfterFunc(s.sessionTTL, func() {
			s.unsubscribeWidget(sessionID)
		})
	}

	s.mu.Lock()
	if prev, ok := s.subs[sessionID]; ok {
		prev.stop()
	}
	s.subs[sessionID] = sub
	s.mu.Unlock()

	firstName, lastName := splitFullName(session.AccountDetails.FullName)

	go func() {
		for event := range events {
			if event.Type != widget.EventCollectPointConfirmed {
				continue
			}
			ctx := context.Background()
			_, err := s.ConfirmCollectPoint(ctx, CollectPointCommand{
				SessionID: sessionID,
				EventID:   event.ID,
				Address:   widget.TranslateAddress(event.Address, firstName, lastName),
			})
			if errors.Is(err, ErrSessionNotFound) {
				s.unsubscribeWidget(sessionID)
				return
			}
			if err != nil {
				s.logger(ctx, "checkout.reconciler.collect_point_failed", map[string]any{
					"session_id": sessionID,
					"event_id":   event.ID,
					"error":      err.Error(),
				})
			}
		}
	}()
}

func (s *reconcilerService) unsubscribeWidget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[sessionID]; ok {
		sub.stop()
		delete(s.subs, sessionID)
	}
}

func splitFullName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// ConfirmCollectPoint applies a confirmed locker/store selection. Shoppers
// without a stored address get the collect point created server-side first;
// either way the checkout selection is re-applied with the resolved address
// id and the current payment token.
func (s *reconcilerService) ConfirmCollectPoint(ctx context.Context, cmd CollectPointCommand) (SessionView, error) {
	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.SelectedPickUpOption != domain.PickUpHoldAtLocation {
		return SessionView{}, ErrReconcilerInvalidInput
	}

	addr := cmd.Address
	snapshot, err := s.snapshot(ctx, session.CartID, 0)
	if err != nil {
		return SessionView{}, fmt.Errorf("confirm collect point: %w", err)
	}

	if len(snapshot.Addresses) == 0 {
		addressID, err := s.commerce.CreateShippingAddress(ctx, session.CartID, addr)
		if err != nil {
			current, loadErr := s.load(ctx, cmd.SessionID)
			if loadErr != nil {
				return SessionView{}, loadErr
			}
			return s.view(current), fmt.Errorf("confirm collect point: %w", err)
		}
		resolved, err := s.resolveCreatedAddress(ctx, session.CartID, addressID)
		if err != nil {
			current, loadErr := s.load(ctx, cmd.SessionID)
			if loadErr != nil {
				return SessionView{}, loadErr
			}
			return s.view(current), err
		}
		addr = resolved
	}

	if addr.IsPersisted() {
		if err := s.applySelections(ctx, session, addr.ID); err != nil {
			current, loadErr := s.load(ctx, cmd.SessionID)
			if loadErr != nil {
				return SessionView{}, loadErr
			}
			return s.view(current), fmt.Errorf("confirm collect point: %w", err)
		}
	}

	session, err = s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.SelectedPickUpOption != domain.PickUpHoldAtLocation {
		// The shopper left hold-at-location while the widget event was in
		// flight; the late result must not resurrect the mode.
		return s.view(session), ErrStaleReconciliation
	}

	loadedAt := session.UpdatedAt
	session.SelectedPickUpAddress = &addr
	if addr.IsPersisted() {
		session.ActiveShippingAddress = &addr
	}
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.reconciler.collect_point_confirmed", map[string]any{
		"session_id": session.ID,
		"event_id":   cmd.EventID,
	})
	return s.view(session), nil
}
