package domain

import (
	"strings"
	"time"
)

// PickUpOption enumerates the delivery alternatives to carrier shipping.
type PickUpOption string

const (
	// PickUpLocal is pick-up at the winery's own location.
	PickUpLocal PickUpOption = "lpu"
	// PickUpHoldAtLocation is pick-up at a carrier hold-at-location point.
	PickUpHoldAtLocation PickUpOption = "hal"
	// PickUpABCStore is pick-up at a partner ABC retail store.
	PickUpABCStore PickUpOption = "abc"
	// PickUpNone indicates no pick-up option has been chosen.
	PickUpNone PickUpOption = ""
)

// Valid reports whether the option is one of the recognised pick-up modes.
func (o PickUpOption) Valid() bool {
	switch o {
	case PickUpLocal, PickUpHoldAtLocation, PickUpABCStore:
		return true
	}
	return false
}

// Address is the postal address shape shared by guest, registered, and
// pick-up paths. ID is the backend-assigned identifier; zero before the
// address has been persisted server-side.
type Address struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Company     string `json:"company,omitempty"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2,omitempty"`
	Street3     string `json:"street3,omitempty"`
	City        string `json:"city"`
	ProvinceID  int    `json:"provinceId"`
	PostalCode  string `json:"postalCode"`
	Residential bool   `json:"residential"`
}

// IsPersisted reports whether the backend has assigned this address an id.
func (a Address) IsPersisted() bool { return a.ID != 0 }

// ShippingMethod describes one backend shipping method. A distinguished
// subset of identifiers denote pick-up modes rather than carrier delivery.
type ShippingMethod struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Price       int64  `json:"price"`
}

// CreditCard references a stored payment instrument by token. The service
// never sees a PAN; the token is the backend's opaque reference.
type CreditCard struct {
	Token    string `json:"token"`
	Type     string `json:"type,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"expMonth,omitempty"`
	ExpYear  int    `json:"expYear,omitempty"`
}

// AccountDetails captures the contact-information step's fields. Loading
// mirrors the client's in-flight account fetch so the aggregate can report
// an incomplete contact step while details are still being resolved.
type AccountDetails struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
	Loading     bool   `json:"loading"`
}

// GiftMessage is an optional message/recipient pair attached to the order.
type GiftMessage struct {
	Message        string `json:"message"`
	RecipientEmail string `json:"recipientEmail"`
}

// GiftMessageState names the phases of the gift message lifecycle.
type GiftMessageState string

const (
	// GiftMessageClosed means no message exists and no edit is open.
	GiftMessageClosed GiftMessageState = "closed"
	// GiftMessageAdding means the add form is open with no committed message.
	GiftMessageAdding GiftMessageState = "adding"
	// GiftMessageCommitted means a message has been persisted.
	GiftMessageCommitted GiftMessageState = "committed"
	// GiftMessageEditing means a committed message is being revised.
	GiftMessageEditing GiftMessageState = "editing"
)

// CheckoutSession is the aggregate root for one shopper's checkout. All
// mutation goes through the session service's action set; handlers never
// write fields directly. The CVV is deliberately absent: it lives only in
// the process-local vault and must never be serialised or logged.
type CheckoutSession struct {
	ID                string `json:"id"`
	ShopperID         string `json:"shopperId"`
	CartID            string `json:"cartId"`
	IsGuest           bool   `json:"isGuest"`
	ReplicatedSiteURL string `json:"replicatedSiteUrl,omitempty"`

	AccountDetails AccountDetails `json:"accountDetails"`
	GiftMessage    *GiftMessage   `json:"giftMessage,omitempty"`

	ActiveShippingAddress *Address `json:"activeShippingAddress,omitempty"`
	GuestAddress          *Address `json:"guestAddress,omitempty"`

	IsAddingAddress     bool `json:"isAddingAddress"`
	IsAddingCreditCard  bool `json:"isAddingCreditCard"`
	IsAddingGiftMessage bool `json:"isAddingGiftMessage"`

	ActiveCreditCard *CreditCard `json:"activeCreditCard,omitempty"`

	AppliedSkyWallet int64 `json:"appliedSkyWallet"`

	IsPickUp              bool         `json:"isPickUp"`
	SelectedPickUpOption  PickUpOption `json:"selectedPickUpOption,omitempty"`
	SelectedPickUpAddress *Address     `json:"selectedPickUpAddress,omitempty"`

	ActiveShippingMethodID string `json:"activeShippingMethodId,omitempty"`

	Errors map[string]string `json:"errors,omitempty"`

	// Epoch increments when the session is reset or its cart is replaced;
	// in-flight reconciliation results carrying an older epoch are discarded.
	Epoch uint64 `json:"epoch"`
	// CallSeq tracks the newest issued call per kind so stale responses of
	// the same kind lose to later writers.
	CallSeq map[string]uint64 `json:"callSeq,omitempty"`

	Submitting bool `json:"submitting"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FieldError records a field-scoped validation message on the session.
func (s *CheckoutSession) FieldError(field, message string) {
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	s.Errors[field] = message
}

// ClearFieldError removes a field-scoped message, if present.
func (s *CheckoutSession) ClearFieldError(field string) {
	delete(s.Errors, field)
}

// DeliveryAddress resolves the address the order will ship to: the pick-up
// address when a pick-up mode is active, the guest address on the guest
// path, otherwise the registered active shipping address.
func (s CheckoutSession) DeliveryAddress() *Address {
	switch {
	case s.IsPickUp && s.SelectedPickUpAddress != nil:
		return s.SelectedPickUpAddress
	case s.GuestAddress != nil:
		return s.GuestAddress
	default:
		return s.ActiveShippingAddress
	}
}

// SkyWalletBucket is one prepaid balance bucket reported by the backend.
type SkyWalletBucket struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// SkyWalletBalance aggregates the shopper's prepaid balance buckets.
type SkyWalletBalance struct {
	Buckets []SkyWalletBucket `json:"buckets"`
}

// Total sums all buckets.
func (b SkyWalletBalance) Total() int64 {
	var total int64
	for _, bucket := range b.Buckets {
		total += bucket.Amount
	}
	return total
}

// AccountSnapshot is the cached address/credit-card list the backend keeps
// per cart. The reconciler reads it through the cache and refetches with an
// address hint when a freshly created address is missing.
type AccountSnapshot struct {
	Addresses   []Address    `json:"addresses"`
	CreditCards []CreditCard `json:"creditCards"`
	FetchedAt   time.Time    `json:"fetchedAt"`
}

// AddressByID returns the snapshot address with the given id, if present.
func (s AccountSnapshot) AddressByID(id int64) (Address, bool) {
	for _, addr := range s.Addresses {
		if addr.ID == id {
			return addr, true
		}
	}
	return Address{}, false
}

// PriceBreakdown itemises the order total exactly as shown to the shopper.
type PriceBreakdown struct {
	Subtotal          int64 `json:"subtotal"`
	Shipping          int64 `json:"shipping"`
	Tax               int64 `json:"tax"`
	RetailDeliveryFee int64 `json:"retailDeliveryFee"`
	Discounts         int64 `json:"discounts"`
	SkyWallet         int64 `json:"skyWallet"`
	Total             int64 `json:"total"`
}

// AmountDue is the total net of the applied prepaid balance. Display only;
// the backend owns settlement math.
func (p PriceBreakdown) AmountDue() int64 {
	due := p.Total - p.SkyWallet
	if due < 0 {
		due = 0
	}
	return due
}

// OrderSummary is the cart snapshot plus breakdown fetched for the order
// total display. The receipt is assembled from this cached value so it
// reflects exactly what the shopper confirmed.
type OrderSummary struct {
	Lines     []ReceiptLine  `json:"lines"`
	Breakdown PriceBreakdown `json:"breakdown"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// ReceiptLine is one cart line item frozen into the receipt.
type ReceiptLine struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Vintage   string `json:"vintage,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// Receipt is the immutable snapshot taken at the moment of successful
// submission. The confirmation view reads only this record and never
// re-fetches order data.
type Receipt struct {
	OrderDisplayID     string         `json:"orderDisplayId"`
	Lines              []ReceiptLine  `json:"lines"`
	DeliveryAddress    Address        `json:"deliveryAddress"`
	DeliveryMethodName string         `json:"deliveryMethodName"`
	Consultant         string         `json:"consultant"`
	Breakdown          PriceBreakdown `json:"breakdown"`
	DisplayTotal       string         `json:"displayTotal"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// PackedLockerID encodes a hold-at-location locker/store identifier into the
// third street line, truncated to the backend's 50-character column.
func PackedLockerID(providerID string) string {
	packed := "HAL:" + strings.TrimSpace(providerID)
	if len(packed) > 50 {
		packed = packed[:50]
	}
	return packed
}
