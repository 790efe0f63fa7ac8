package domain

// Tab names one of the three checkout steps.
type Tab string

const (
	// TabContactInformation gathers account details and optional gift message.
	TabContactInformation Tab = "contact-information"
	// TabDelivery resolves the shipping address and method.
	TabDelivery Tab = "delivery"
	// TabPayment selects the instrument and hosts order submission.
	TabPayment Tab = "payment"
)

// TabState reports whether one step is the active step and whether its
// completion criteria hold.
type TabState struct {
	Active    bool `json:"active"`
	Completed bool `json:"completed"`
}

// TabSet is the derived step state for the whole checkout. It is a pure
// projection of the session: recomputing on unchanged input yields the same
// set, and a step whose incomplete condition re-triggers drops out of the
// completed set on the same evaluation.
type TabSet struct {
	ActiveTab          Tab      `json:"activeTab"`
	ContactInformation TabState `json:"contactInformation"`
	Delivery           TabState `json:"delivery"`
	Payment            TabState `json:"payment"`
}

// TabInputs carries the external state the deriver needs beyond the session
// aggregate itself.
type TabInputs struct {
	// HasIdentity is true once an authenticated or guest user session exists.
	HasIdentity bool
	// HasCVV is true while the vault holds a verification code for the session.
	HasCVV bool
}

// DeriveTabs computes {active, completed} for each checkout step. It never
// errors and has no side effects. Rules are evaluated lowest-priority first
// (payment, delivery, contact information) so the least complete step wins
// the active slot.
func DeriveTabs(s CheckoutSession, in TabInputs) TabSet {
	paymentCompleted := s.ActiveCreditCard != nil &&
		!s.IsAddingCreditCard &&
		in.HasCVV

	deliveryCompleted := deriveDeliveryCompleted(s)

	contactCompleted := in.HasIdentity && !s.IsAddingGiftMessage

	active := TabPayment
	if !deliveryCompleted {
		active = TabDelivery
	}
	if !contactCompleted {
		active = TabContactInformation
	}

	return TabSet{
		ActiveTab:          active,
		ContactInformation: TabState{Active: active == TabContactInformation || contactCompleted, Completed: contactCompleted},
		Delivery:           TabState{Active: active == TabDelivery || deliveryCompleted, Completed: deliveryCompleted},
		Payment:            TabState{Active: active == TabPayment || paymentCompleted, Completed: paymentCompleted},
	}
}

func deriveDeliveryCompleted(s CheckoutSession) bool {
	// A guest with a resolved address is delivery-complete regardless of the
	// registered-path conditions below.
	if s.GuestAddress != nil {
		return true
	}
	if s.ActiveShippingAddress == nil || s.IsAddingAddress {
		return false
	}
	if s.IsPickUp {
		if !s.SelectedPickUpOption.Valid() {
			return false
		}
		if s.SelectedPickUpOption != PickUpLocal && s.SelectedPickUpAddress == nil {
			return false
		}
	}
	return true
}

// CompletedTabs lists the tabs currently satisfied, in step order. The set
// is derived, never accumulated, so stale completions cannot survive a
// regression of their rule.
func (t TabSet) CompletedTabs() []Tab {
	tabs := make([]Tab, 0, 3)
	if t.ContactInformation.Completed {
		tabs = append(tabs, TabContactInformation)
	}
	if t.Delivery.Completed {
		tabs = append(tabs, TabDelivery)
	}
	if t.Payment.Completed {
		tabs = append(tabs, TabPayment)
	}
	return tabs
}
