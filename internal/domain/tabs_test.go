package domain

import (
	"reflect"
	"testing"
)

func readySession() CheckoutSession {
	return CheckoutSession{
		ID:     "chk-1",
		CartID: "cart-1",
		ActiveShippingAddress: &Address{
			ID:         41,
			FirstName:  "June",
			LastName:   "Ryder",
			Street1:    "12 Vine Row",
			City:       "Aspen",
			ProvinceID: 6,
			PostalCode: "81611",
		},
		ActiveCreditCard: &CreditCard{Token: "tok_1", Last4: "4242"},
	}
}

func TestDeriveTabsAllComplete(t *testing.T) {
	tabs := DeriveTabs(readySession(), TabInputs{HasIdentity: true, HasCVV: true})

	if tabs.ActiveTab != TabPayment {
		t.Fatalf("expected payment active when all complete, got %s", tabs.ActiveTab)
	}
	for name, state := range map[string]TabState{
		"contact":  tabs.ContactInformation,
		"delivery": tabs.Delivery,
		"payment":  tabs.Payment,
	} {
		if !state.Completed {
			t.Fatalf("expected %s completed", name)
		}
		if !state.Active {
			t.Fatalf("expected %s active (completed implies active)", name)
		}
	}
}

func TestDeriveTabsContactInformation(t *testing.T) {
	cases := []struct {
		name        string
		hasIdentity bool
		addingGift  bool
		completed   bool
	}{
		{"authenticated, no gift edit", true, false, true},
		{"no session yet", false, false, false},
		{"mid gift message edit", true, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := readySession()
			s.IsAddingGiftMessage = tc.addingGift
			tabs := DeriveTabs(s, TabInputs{HasIdentity: tc.hasIdentity, HasCVV: true})
			if tabs.ContactInformation.Completed != tc.completed {
				t.Fatalf("expected contact completed=%v", tc.completed)
			}
			if !tc.completed && tabs.ActiveTab != TabContactInformation {
				t.Fatalf("expected contact to take the active slot, got %s", tabs.ActiveTab)
			}
		})
	}
}

func TestDeriveTabsDelivery(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*CheckoutSession)
		completed bool
	}{
		{"registered address selected", func(*CheckoutSession) {}, true},
		{"no address", func(s *CheckoutSession) { s.ActiveShippingAddress = nil }, false},
		{"mid add address", func(s *CheckoutSession) { s.IsAddingAddress = true }, false},
		{"pickup without option", func(s *CheckoutSession) { s.IsPickUp = true }, false},
		{"hal without resolved address", func(s *CheckoutSession) {
			s.IsPickUp = true
			s.SelectedPickUpOption = PickUpHoldAtLocation
			s.SelectedPickUpAddress = nil
		}, false},
		{"hal with resolved address", func(s *CheckoutSession) {
			s.IsPickUp = true
			s.SelectedPickUpOption = PickUpHoldAtLocation
			s.SelectedPickUpAddress = &Address{ID: 77, Street1: "Locker Hub", Street3: "HAL:9000"}
		}, true},
		{"local pickup needs no address", func(s *CheckoutSession) {
			s.IsPickUp = true
			s.SelectedPickUpOption = PickUpLocal
		}, true},
		{"guest address overrides", func(s *CheckoutSession) {
			s.ActiveShippingAddress = nil
			s.IsPickUp = true
			s.GuestAddress = &Address{Street1: "3 Cellar Way", City: "Boulder", ProvinceID: 6, PostalCode: "80302"}
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := readySession()
			tc.mutate(&s)
			tabs := DeriveTabs(s, TabInputs{HasIdentity: true, HasCVV: true})
			if tabs.Delivery.Completed != tc.completed {
				t.Fatalf("expected delivery completed=%v", tc.completed)
			}
		})
	}
}

func TestDeriveTabsPayment(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*CheckoutSession)
		hasCVV    bool
		completed bool
	}{
		{"card and cvv present", func(*CheckoutSession) {}, true, true},
		{"no card reference", func(s *CheckoutSession) { s.ActiveCreditCard = nil }, true, false},
		{"mid add card", func(s *CheckoutSession) { s.IsAddingCreditCard = true }, true, false},
		{"cvv empty", func(*CheckoutSession) {}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := readySession()
			tc.mutate(&s)
			tabs := DeriveTabs(s, TabInputs{HasIdentity: true, HasCVV: tc.hasCVV})
			if tabs.Payment.Completed != tc.completed {
				t.Fatalf("expected payment completed=%v", tc.completed)
			}
		})
	}
}

func TestDeriveTabsIdempotent(t *testing.T) {
	s := readySession()
	s.IsPickUp = true
	s.SelectedPickUpOption = PickUpABCStore
	s.SelectedPickUpAddress = &Address{ID: 9, Street1: "ABC Store 14"}
	in := TabInputs{HasIdentity: true, HasCVV: false}

	first := DeriveTabs(s, in)
	second := DeriveTabs(s, in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("deriver is not idempotent: %#v vs %#v", first, second)
	}
}

func TestDeriveTabsPrunesStaleCompletion(t *testing.T) {
	s := readySession()
	in := TabInputs{HasIdentity: true, HasCVV: true}

	before := DeriveTabs(s, in)
	if !before.Delivery.Completed {
		t.Fatalf("precondition: delivery should be complete")
	}

	// Re-trigger the incomplete condition; the very next derivation must drop
	// delivery from the completed set.
	s.IsAddingAddress = true
	after := DeriveTabs(s, in)
	if after.Delivery.Completed {
		t.Fatalf("stale delivery completion survived a rule regression")
	}
	for _, tab := range after.CompletedTabs() {
		if tab == TabDelivery {
			t.Fatalf("completed set still contains delivery")
		}
	}
	if after.ActiveTab != TabDelivery {
		t.Fatalf("expected delivery to become the active tab, got %s", after.ActiveTab)
	}
}

func TestCompletedTabsOrder(t *testing.T) {
	s := readySession()
	tabs := DeriveTabs(s, TabInputs{HasIdentity: true, HasCVV: true})
	got := tabs.CompletedTabs()
	want := []Tab{TabContactInformation, TabDelivery, TabPayment}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
