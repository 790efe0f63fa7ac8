package services

import (
	"context"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CheckoutSession  = domain.CheckoutSession
	Address          = domain.Address
	ShippingMethod   = domain.ShippingMethod
	CreditCard       = domain.CreditCard
	AccountDetails   = domain.AccountDetails
	GiftMessage      = domain.GiftMessage
	GiftMessageState = domain.GiftMessageState
	PickUpOption     = domain.PickUpOption
	Tab              = domain.Tab
	TabSet           = domain.TabSet
	SkyWalletBalance = domain.SkyWalletBalance
	AccountSnapshot  = domain.AccountSnapshot
	PriceBreakdown   = domain.PriceBreakdown
	OrderSummary     = domain.OrderSummary
	Receipt          = domain.Receipt
	ReceiptLine      = domain.ReceiptLine
)

// Call kinds tracked in the session's CallSeq map. A call's result commits
// only while it is still the newest of its kind.
const (
	CallKindShippingMethod = "shippingMethod"
	CallKindAddressCreate  = "addressCreate"
)

// SessionView pairs the aggregate with the tab states derived from it. Every
// mutating operation returns a fresh view so callers never read a stale
// derivation.
type SessionView struct {
	Session CheckoutSession
	Tabs    TabSet
}

// CommerceGateway abstracts the commerce backend client for the services.
type CommerceGateway interface {
	CreateShippingAddress(ctx context.Context, cartID string, address Address) (int64, error)
	ApplyCheckoutSelections(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error
	UpdateShippingMethod(ctx context.Context, cartID, shippingMethodID string) (commerce.UpdateShippingMethodResult, error)
	AddGiftMessage(ctx context.Context, orderDisplayID string, message GiftMessage) error
	PayForOrder(ctx context.Context, req commerce.PayForOrderRequest) (string, error)
	SaveLastUsedAddress(ctx context.Context, shopperID string, address Address) error
	FetchAccountSnapshot(ctx context.Context, cartID string, addressHint int64) (AccountSnapshot, error)
	FetchShippingMethods(ctx context.Context, cartID string) ([]ShippingMethod, error)
	FetchBalance(ctx context.Context, shopperID string) (SkyWalletBalance, error)
	FetchOrderSummary(ctx context.Context, cartID string) (OrderSummary, error)
	FetchCSRFToken(ctx context.Context) (string, error)
	SignOutGuest(ctx context.Context, guestShopperID, csrfToken string) error
}

// SessionService owns the checkout session aggregate. It is the closed set
// of named actions through which all mutation flows; nothing else writes
// session fields.
type SessionService interface {
	// StartSession creates a fresh session for the cart, clearing any receipt
	// left from a previous checkout.
	StartSession(ctx context.Context, cmd StartSessionCommand) (SessionView, error)
	// GetSession loads the session and derives its tab states.
	GetSession(ctx context.Context, sessionID string) (SessionView, error)
	// UpdateAccountDetails writes the contact-information fields.
	UpdateAccountDetails(ctx context.Context, cmd UpdateAccountDetailsCommand) (SessionView, error)
	// SelectCreditCard sets the active stored payment instrument.
	SelectCreditCard(ctx context.Context, cmd SelectCreditCardCommand) (SessionView, error)
	// SetAddingCreditCard toggles the new-card form; an open form marks the
	// payment step incomplete.
	SetAddingCreditCard(ctx context.Context, sessionID string, adding bool) (SessionView, error)
	// SetCVV places the verification code in the process-local vault. The
	// code never touches the persisted aggregate.
	SetCVV(ctx context.Context, cmd SetCVVCommand) (SessionView, error)
	// ImportCart replaces the active cart (shared or VIP import), bumping the
	// epoch so in-flight reconciliation against the old cart is discarded.
	ImportCart(ctx context.Context, cmd ImportCartCommand) (SessionView, error)
	// Reset clears the session back to its empty state.
	Reset(ctx context.Context, sessionID string) (SessionView, error)
	// SetTastingSelection stores an opaque tasting-event selection under its
	// well-known key.
	SetTastingSelection(ctx context.Context, sessionID, value string) error
	// TastingSelection reads the stored tasting-event selection.
	TastingSelection(ctx context.Context, sessionID string) (string, error)
}

// ReconcilerService resolves the single authoritative (address, shipping
// method) pair the backend will bill and ship against.
type ReconcilerService interface {
	// ListShippingMethods returns the methods available to the cart, with
	// pick-up-only identifiers filtered out for the guest path.
	ListShippingMethods(ctx context.Context, sessionID string) ([]ShippingMethod, error)
	// SubmitGuestAddress records the guest's address on the session without
	// persisting it server-side.
	SubmitGuestAddress(ctx context.Context, cmd GuestAddressCommand) (SessionView, error)
	// SetAddingAddress toggles the new-address form.
	SetAddingAddress(ctx context.Context, sessionID string, adding bool) (SessionView, error)
	// CreateAddress creates a registered shopper's address and resolves the
	// authoritative record through the cached account snapshot, refetching
	// with an address hint when the fresh record has not landed yet.
	CreateAddress(ctx context.Context, cmd CreateAddressCommand) (SessionView, error)
	// SelectAddress activates one of the shopper's stored addresses.
	SelectAddress(ctx context.Context, cmd SelectAddressCommand) (SessionView, error)
	// SelectShippingMethod updates the cart's shipping method. On failure
	// the prior method stays active.
	SelectShippingMethod(ctx context.Context, cmd SelectShippingMethodCommand) (SessionView, error)
	// SelectPickUpOption switches between the mutually exclusive pick-up
	// modes, updating the backend shipping method for the chosen mode and
	// managing the collect-point widget subscription for hold-at-location.
	SelectPickUpOption(ctx context.Context, cmd PickUpOptionCommand) (SessionView, error)
	// ConfirmCollectPoint applies a confirmed locker/store selection coming
	// from the locator widget.
	ConfirmCollectPoint(ctx context.Context, cmd CollectPointCommand) (SessionView, error)
	// AccountSnapshot reads the cached address/credit-card list for the
	// session's cart.
	AccountSnapshot(ctx context.Context, sessionID string) (AccountSnapshot, error)
}

// GiftMessageService runs the optional gift message side-channel.
type GiftMessageService interface {
	// Open moves the lifecycle to adding (no committed message) or editing.
	Open(ctx context.Context, sessionID string) (SessionView, error)
	// Cancel closes the open edit without touching a committed message.
	Cancel(ctx context.Context, sessionID string) (SessionView, error)
	// Commit validates and persists the message durably per session.
	Commit(ctx context.Context, cmd CommitGiftMessageCommand) (SessionView, error)
	// Remove discards a committed message; it requires explicit confirmation.
	Remove(ctx context.Context, cmd RemoveGiftMessageCommand) (SessionView, error)
	// State reports the current lifecycle phase and message.
	State(ctx context.Context, sessionID string) (GiftMessageState, *GiftMessage, error)
}

// SkyWalletService applies the shopper's prepaid balance against the order.
type SkyWalletService interface {
	// Balance returns the shopper's bucketed balance through the cache.
	Balance(ctx context.Context, sessionID string) (SkyWalletBalance, error)
	// Apply validates the requested amount against the eligible balance and
	// commits it to the session. Zero clears the field error without
	// clearing the applied amount.
	Apply(ctx context.Context, cmd ApplySkyWalletCommand) (SessionView, error)
	// OrderSummary returns the cart lines and price breakdown shown on the
	// order total display, through the cache.
	OrderSummary(ctx context.Context, sessionID string) (OrderSummary, error)
}

// SubmissionService is the terminal, irreversible operation.
type SubmissionService interface {
	// Submit runs the submission sequence: encrypt the verification code,
	// pay, freeze the receipt, fire best-effort side calls, reset the
	// session, invalidate cart caches, and return the redirect target.
	Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitResult, error)
	// Receipt reads the immutable receipt for the confirmation view.
	Receipt(ctx context.Context, sessionID string) (Receipt, error)
}

type StartSessionCommand struct {
	ShopperID         string
	Email             string
	IsGuest           bool
	CartID            string
	ReplicatedSiteURL string
	PreviousSessionID string
}

type UpdateAccountDetailsCommand struct {
	SessionID   string
	FullName    string
	Email       string
	DateOfBirth string
}

type SelectCreditCardCommand struct {
	SessionID string
	Token     string
}

type SetCVVCommand struct {
	SessionID string
	CVV       string
}

type ImportCartCommand struct {
	SessionID string
	CartID    string
	// ReplicatedSiteURL carries the consultant attribution of the imported
	// cart, if any.
	ReplicatedSiteURL string
}

type GuestAddressCommand struct {
	SessionID string
	Address   Address
}

type CreateAddressCommand struct {
	SessionID string
	Address   Address
}

type SelectAddressCommand struct {
	SessionID string
	AddressID int64
}

type SelectShippingMethodCommand struct {
	SessionID        string
	ShippingMethodID string
}

type PickUpOptionCommand struct {
	SessionID string
	// Option is empty to leave pick-up mode entirely.
	Option PickUpOption
}

type CollectPointCommand struct {
	SessionID  string
	EventID    string
	Address    Address
	RawAddress map[string]any
}

type CommitGiftMessageCommand struct {
	SessionID      string
	Message        string
	RecipientEmail string
	// CartHasGiftCard makes the recipient email mandatory.
	CartHasGiftCard bool
}

type RemoveGiftMessageCommand struct {
	SessionID string
	Confirmed bool
}

type ApplySkyWalletCommand struct {
	SessionID string
	Amount    int64
}

type SubmitOrderCommand struct {
	SessionID string
}

// SubmitResult carries the frozen receipt and the confirmation redirect.
type SubmitResult struct {
	Receipt  Receipt
	Redirect string
}
