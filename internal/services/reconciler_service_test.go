package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/config"
	"github.com/clairmont-cellars/api/internal/widget"
)

func testCheckoutConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		PickUpLocalMethodID:    "900",
		PickUpHALMethodID:      "901",
		PickUpABCStoreMethodID: "902",
	}
}

func newTestReconciler(t *testing.T, repo *memSessionRepo, cache *stubCache, gateway *stubGateway) ReconcilerService {
	t.Helper()
	service, err := NewReconcilerService(ReconcilerServiceDeps{
		Sessions: repo,
		Cache:    cache,
		Commerce: gateway,
		Widget:   widget.NewBus(),
		Vault:    newMemVault(),
		Checkout: testCheckoutConfig(),
		Clock:    func() time.Time { return time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing reconciler: %v", err)
	}
	return service
}

func testAddress(id int64) domain.Address {
	return domain.Address{
		ID:         id,
		FirstName:  "Dana",
		LastName:   "Reed",
		Street1:    "12 Vineyard Way",
		City:       "Napa",
		ProvinceID: 5,
		PostalCode: "94559",
	}
}

func TestListShippingMethodsFiltersPickUpForGuests(t *testing.T) {
	session := seedSession("sess-1")
	session.IsGuest = true
	repo := newMemSessionRepo(session)

	gateway := &stubGateway{
		fetchMethodsFunc: func(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
			return []domain.ShippingMethod{
				{ID: "2", DisplayName: "Ground"},
				{ID: "900", DisplayName: "Local Pick Up"},
				{ID: "901", DisplayName: "Hold At Location"},
				{ID: "902", DisplayName: "ABC Store"},
			}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	methods, err := service.ListShippingMethods(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list shipping methods: %v", err)
	}
	if len(methods) != 1 || methods[0].ID != "2" {
		t.Fatalf("expected pick-up methods filtered for guest, got %+v", methods)
	}
}

func TestListShippingMethodsServedFromCache(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	cache := &stubCache{
		getMethodsFunc: func(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
			return []domain.ShippingMethod{{ID: "2", DisplayName: "Ground"}}, nil
		},
	}
	gateway := &stubGateway{
		fetchMethodsFunc: func(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
			t.Fatal("backend should not be called on a cache hit")
			return nil, nil
		},
	}
	service := newTestReconciler(t, repo, cache, gateway)

	methods, err := service.ListShippingMethods(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list shipping methods: %v", err)
	}
	if len(methods) != 1 || methods[0].ID != "2" {
		t.Fatalf("unexpected methods: %+v", methods)
	}
}

func TestSubmitGuestAddressClearsPickUpState(t *testing.T) {
	session := seedSession("sess-1")
	session.IsGuest = true
	session.IsPickUp = true
	session.SelectedPickUpOption = domain.PickUpLocal
	repo := newMemSessionRepo(session)
	service := newTestReconciler(t, repo, &stubCache{}, &stubGateway{})

	view, err := service.SubmitGuestAddress(context.Background(), GuestAddressCommand{
		SessionID: "sess-1",
		Address:   testAddress(0),
	})
	if err != nil {
		t.Fatalf("submit guest address: %v", err)
	}
	if view.Session.GuestAddress == nil || view.Session.GuestAddress.Street1 != "12 Vineyard Way" {
		t.Fatalf("guest address not recorded: %+v", view.Session.GuestAddress)
	}
	if view.Session.IsPickUp || view.Session.SelectedPickUpOption != domain.PickUpNone {
		t.Fatal("submitting a guest address should leave pick-up mode")
	}

	stored := repo.stored("sess-1")
	if stored.GuestAddress == nil {
		t.Fatal("guest address not persisted")
	}
}

func TestSubmitGuestAddressRejectsIncomplete(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	service := newTestReconciler(t, repo, &stubCache{}, &stubGateway{})

	addr := testAddress(0)
	addr.City = ""
	_, err := service.SubmitGuestAddress(context.Background(), GuestAddressCommand{SessionID: "sess-1", Address: addr})
	if !errors.Is(err, ErrReconcilerInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCreateAddressResolvesThroughHintedRefetch(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))

	snapshotDeleted := false
	cache := &stubCache{
		delSnapshotFunc: func(ctx context.Context, cartID string) error {
			snapshotDeleted = true
			return nil
		},
	}
	gateway := &stubGateway{
		createAddressFunc: func(ctx context.Context, cartID string, address domain.Address) (int64, error) {
			return 41, nil
		},
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			if addressHint == 41 {
				return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(41)}}, nil
			}
			// the freshly created record has not landed yet
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(7)}}, nil
		},
	}
	service := newTestReconciler(t, repo, cache, gateway)

	view, err := service.CreateAddress(context.Background(), CreateAddressCommand{
		SessionID: "sess-1",
		Address:   testAddress(0),
	})
	if err != nil {
		t.Fatalf("create address: %v", err)
	}
	if view.Session.ActiveShippingAddress == nil || view.Session.ActiveShippingAddress.ID != 41 {
		t.Fatalf("active address not resolved to created record: %+v", view.Session.ActiveShippingAddress)
	}
	if view.Session.IsAddingAddress {
		t.Fatal("address form should close after a successful create")
	}
	if !snapshotDeleted {
		t.Fatal("stale snapshot should be invalidated before the hinted refetch")
	}
}

func TestCreateAddressBackendFailureKeepsFormOpen(t *testing.T) {
	session := seedSession("sess-1")
	session.IsAddingAddress = true
	repo := newMemSessionRepo(session)

	gateway := &stubGateway{
		createAddressFunc: func(ctx context.Context, cartID string, address domain.Address) (int64, error) {
			return 0, &commerce.EnvelopeError{Code: "address_invalid", Message: "We could not verify that address."}
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.CreateAddress(context.Background(), CreateAddressCommand{
		SessionID: "sess-1",
		Address:   testAddress(0),
	})
	var envErr *commerce.EnvelopeError
	if !errors.As(err, &envErr) {
		t.Fatalf("expected envelope error, got %v", err)
	}
	if envErr.Message != "We could not verify that address." {
		t.Fatalf("unexpected message: %q", envErr.Message)
	}
	if !view.Session.IsAddingAddress {
		t.Fatal("address form should stay open after a backend rejection")
	}
	if view.Session.ActiveShippingAddress != nil {
		t.Fatal("no address should be activated on failure")
	}
}

func TestSelectAddressActivatesStoredAddress(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	gateway := &stubGateway{
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(7), testAddress(8)}}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.SelectAddress(context.Background(), SelectAddressCommand{SessionID: "sess-1", AddressID: 8})
	if err != nil {
		t.Fatalf("select address: %v", err)
	}
	if view.Session.ActiveShippingAddress == nil || view.Session.ActiveShippingAddress.ID != 8 {
		t.Fatalf("expected address 8 active, got %+v", view.Session.ActiveShippingAddress)
	}

	if _, err := service.SelectAddress(context.Background(), SelectAddressCommand{SessionID: "sess-1", AddressID: 99}); !errors.Is(err, ErrReconcilerInvalidInput) {
		t.Fatalf("expected invalid input for unknown address, got %v", err)
	}
}

func TestSelectShippingMethodCommitsOnSuccess(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	var updatedWith string
	gateway := &stubGateway{
		updateMethodFunc: func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
			updatedWith = methodID
			return commerce.UpdateShippingMethodResult{}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.SelectShippingMethod(context.Background(), SelectShippingMethodCommand{
		SessionID:        "sess-1",
		ShippingMethodID: "2",
	})
	if err != nil {
		t.Fatalf("select shipping method: %v", err)
	}
	if updatedWith != "2" {
		t.Fatalf("backend updated with %q", updatedWith)
	}
	if view.Session.ActiveShippingMethodID != "2" {
		t.Fatalf("method not committed: %q", view.Session.ActiveShippingMethodID)
	}
	if repo.stored("sess-1").CallSeq[CallKindShippingMethod] != 1 {
		t.Fatalf("call sequence not recorded: %+v", repo.stored("sess-1").CallSeq)
	}
}

func TestSelectShippingMethodFailureLeavesPriorMethod(t *testing.T) {
	session := seedSession("sess-1")
	session.ActiveShippingMethodID = "2"
	repo := newMemSessionRepo(session)

	gateway := &stubGateway{
		updateMethodFunc: func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
			return commerce.UpdateShippingMethodResult{}, &commerce.EnvelopeError{Code: "method_unavailable", Message: "That option is no longer available."}
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.SelectShippingMethod(context.Background(), SelectShippingMethodCommand{
		SessionID:        "sess-1",
		ShippingMethodID: "3",
	})
	var envErr *commerce.EnvelopeError
	if !errors.As(err, &envErr) {
		t.Fatalf("expected envelope error, got %v", err)
	}
	if view.Session.ActiveShippingMethodID != "2" {
		t.Fatalf("prior method should survive a failed update, got %q", view.Session.ActiveShippingMethodID)
	}
}

func TestSelectShippingMethodStaleResultDiscarded(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	gateway := &stubGateway{
		updateMethodFunc: func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
			// a newer call of the same kind lands while this one is in flight
			current := repo.stored("sess-1")
			current.CallSeq[CallKindShippingMethod]++
			current.UpdatedAt = current.UpdatedAt.Add(time.Second)
			if err := repo.Save(context.Background(), current, nil); err != nil {
				t.Fatalf("save newer call: %v", err)
			}
			return commerce.UpdateShippingMethodResult{}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	_, err := service.SelectShippingMethod(context.Background(), SelectShippingMethodCommand{
		SessionID:        "sess-1",
		ShippingMethodID: "2",
	})
	if !errors.Is(err, ErrStaleReconciliation) {
		t.Fatalf("expected stale result discarded, got %v", err)
	}
	if repo.stored("sess-1").ActiveShippingMethodID == "2" {
		t.Fatal("stale result must not commit the method")
	}
}

func TestSelectPickUpOptionCommitsAfterBackendUpdate(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	var updatedWith string
	gateway := &stubGateway{
		updateMethodFunc: func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
			updatedWith = methodID
			return commerce.UpdateShippingMethodResult{}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.SelectPickUpOption(context.Background(), PickUpOptionCommand{
		SessionID: "sess-1",
		Option:    domain.PickUpLocal,
	})
	if err != nil {
		t.Fatalf("select pick-up option: %v", err)
	}
	if updatedWith != "900" {
		t.Fatalf("expected local pick-up method id, backend got %q", updatedWith)
	}
	if !view.Session.IsPickUp || view.Session.SelectedPickUpOption != domain.PickUpLocal {
		t.Fatalf("pick-up mode not committed: %+v", view.Session)
	}
	if view.Session.ActiveShippingMethodID != "900" {
		t.Fatalf("shipping method not committed: %q", view.Session.ActiveShippingMethodID)
	}
}

func TestSelectPickUpOptionFailureDoesNotSwitchMode(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	gateway := &stubGateway{
		updateMethodFunc: func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
			return commerce.UpdateShippingMethodResult{}, &commerce.EnvelopeError{Code: "method_unavailable", Message: "Pick up is not available for this cart."}
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.SelectPickUpOption(context.Background(), PickUpOptionCommand{
		SessionID: "sess-1",
		Option:    domain.PickUpABCStore,
	})
	if err == nil {
		t.Fatal("expected backend failure to surface")
	}
	if view.Session.IsPickUp || view.Session.SelectedPickUpOption != domain.PickUpNone {
		t.Fatal("a failed method update must not switch pick-up mode")
	}
}

func TestSelectPickUpOptionNoneClearsState(t *testing.T) {
	session := seedSession("sess-1")
	session.IsPickUp = true
	session.SelectedPickUpOption = domain.PickUpHoldAtLocation
	addr := testAddress(0)
	session.SelectedPickUpAddress = &addr
	repo := newMemSessionRepo(session)
	service := newTestReconciler(t, repo, &stubCache{}, &stubGateway{})

	view, err := service.SelectPickUpOption(context.Background(), PickUpOptionCommand{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("leave pick-up: %v", err)
	}
	if view.Session.IsPickUp || view.Session.SelectedPickUpOption != domain.PickUpNone || view.Session.SelectedPickUpAddress != nil {
		t.Fatalf("pick-up state not cleared: %+v", view.Session)
	}
}

func TestConfirmCollectPointWithStoredAddresses(t *testing.T) {
	session := seedSession("sess-1")
	session.IsPickUp = true
	session.SelectedPickUpOption = domain.PickUpHoldAtLocation
	repo := newMemSessionRepo(session)

	gateway := &stubGateway{
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(7)}}, nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	locker := domain.Address{
		FirstName:  "Dana",
		LastName:   "Reed",
		Company:    "Main St Lockers",
		Street1:    "500 Main St",
		City:       "Napa",
		ProvinceID: 5,
		PostalCode: "94559",
	}
	view, err := service.ConfirmCollectPoint(context.Background(), CollectPointCommand{
		SessionID: "sess-1",
		EventID:   "evt-1",
		Address:   locker,
	})
	if err != nil {
		t.Fatalf("confirm collect point: %v", err)
	}
	if view.Session.SelectedPickUpAddress == nil || view.Session.SelectedPickUpAddress.Company != "Main St Lockers" {
		t.Fatalf("collect point not recorded: %+v", view.Session.SelectedPickUpAddress)
	}
}

func TestConfirmCollectPointCreatesAddressWhenNoneStored(t *testing.T) {
	session := seedSession("sess-1")
	session.IsPickUp = true
	session.SelectedPickUpOption = domain.PickUpHoldAtLocation
	session.ActiveCreditCard = &domain.CreditCard{Token: "tok-9"}
	repo := newMemSessionRepo(session)

	created := false
	var applied commerce.ApplyCheckoutSelectionsRequest
	gateway := &stubGateway{
		createAddressFunc: func(ctx context.Context, cartID string, address domain.Address) (int64, error) {
			created = true
			return 55, nil
		},
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			if addressHint == 55 {
				return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(55)}}, nil
			}
			return domain.AccountSnapshot{}, nil
		},
		applySelectionsFunc: func(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error {
			applied = req
			return nil
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	view, err := service.ConfirmCollectPoint(context.Background(), CollectPointCommand{
		SessionID: "sess-1",
		EventID:   "evt-1",
		Address:   testAddress(0),
	})
	if err != nil {
		t.Fatalf("confirm collect point: %v", err)
	}
	if !created {
		t.Fatal("collect point should be created when the shopper has no stored addresses")
	}
	if applied.AddressID != 55 || applied.PaymentToken != "tok-9" {
		t.Fatalf("checkout selections not reapplied with resolved id and card token: %+v", applied)
	}
	if view.Session.SelectedPickUpAddress == nil || view.Session.SelectedPickUpAddress.ID != 55 {
		t.Fatalf("resolved collect point not recorded: %+v", view.Session.SelectedPickUpAddress)
	}
}

func TestConfirmCollectPointRejectedOutsideHoldAtLocation(t *testing.T) {
	session := seedSession("sess-1")
	session.IsPickUp = true
	session.SelectedPickUpOption = domain.PickUpLocal
	repo := newMemSessionRepo(session)
	service := newTestReconciler(t, repo, &stubCache{}, &stubGateway{})

	_, err := service.ConfirmCollectPoint(context.Background(), CollectPointCommand{
		SessionID: "sess-1",
		Address:   testAddress(0),
	})
	if !errors.Is(err, ErrReconcilerInvalidInput) {
		t.Fatalf("expected invalid input outside hold-at-location, got %v", err)
	}
}

func TestWidgetEventFlowsIntoCollectPoint(t *testing.T) {
	session := seedSession("sess-1")
	session.AccountDetails.FullName = "Dana Reed"
	repo := newMemSessionRepo(session)

	bus := widget.NewBus()
	gateway := &stubGateway{
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(7)}}, nil
		},
	}
	service, err := NewReconcilerService(ReconcilerServiceDeps{
		Sessions: repo,
		Cache:    &stubCache{},
		Commerce: gateway,
		Widget:   bus,
		Vault:    newMemVault(),
		Checkout: testCheckoutConfig(),
	})
	if err != nil {
		t.Fatalf("construct reconciler: %v", err)
	}

	if _, err := service.SelectPickUpOption(context.Background(), PickUpOptionCommand{
		SessionID: "sess-1",
		Option:    domain.PickUpHoldAtLocation,
	}); err != nil {
		t.Fatalf("enter hold-at-location: %v", err)
	}

	if err := bus.Publish("sess-1", widget.Event{
		Type: widget.EventCollectPointConfirmed,
		ID:   "evt-7",
		Address: widget.ProviderAddress{
			LocationID: "LKR-12",
			Name:       "Main St Lockers",
			Line1:      "500 Main St",
			City:       "Napa",
			ProvinceID: 5,
			PostalCode: "94559",
		},
	}); err != nil {
		t.Fatalf("publish widget event: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stored := repo.stored("sess-1"); stored.SelectedPickUpAddress != nil {
			if stored.SelectedPickUpAddress.Company != "Main St Lockers" {
				t.Fatalf("unexpected collect point: %+v", stored.SelectedPickUpAddress)
			}
			if stored.SelectedPickUpAddress.FirstName != "Dana" || stored.SelectedPickUpAddress.LastName != "Reed" {
				t.Fatalf("shopper name not carried onto the collect point: %+v", stored.SelectedPickUpAddress)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("widget event never reached the session")
}

func TestRegisteredFlowBindsSelectionsToBackend(t *testing.T) {
	session := seedSession("sess-1")
	session.IsAddingAddress = true
	repo := newMemSessionRepo(session)
	vault := newMemVault()

	var applied []commerce.ApplyCheckoutSelectionsRequest
	gateway := &stubGateway{
		createAddressFunc: func(ctx context.Context, cartID string, address domain.Address) (int64, error) {
			return 7, nil
		},
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(7)}}, nil
		},
		applySelectionsFunc: func(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error {
			applied = append(applied, req)
			return nil
		},
	}

	reconciler := newTestReconciler(t, repo, &stubCache{}, gateway)
	sessions, err := NewSessionService(SessionServiceDeps{
		Sessions: repo,
		Receipts: &stubReceiptRepo{},
		KV:       newMemKV(),
		Commerce: gateway,
		Vault:    vault,
	})
	if err != nil {
		t.Fatalf("construct session service: %v", err)
	}

	ctx := context.Background()
	if _, err := reconciler.CreateAddress(ctx, CreateAddressCommand{
		SessionID: "sess-1",
		Address:   testAddress(0),
	}); err != nil {
		t.Fatalf("create address: %v", err)
	}
	if _, err := sessions.SelectCreditCard(ctx, SelectCreditCardCommand{
		SessionID: "sess-1",
		Token:     "tok-1",
	}); err != nil {
		t.Fatalf("select credit card: %v", err)
	}

	if len(applied) != 2 {
		t.Fatalf("expected the backend selection bound on address creation and card change, got %d calls", len(applied))
	}
	first, second := applied[0], applied[1]
	if first.CartID != "cart-1" || first.AddressID != 7 || first.PersonDisplayID != "shopper-1" {
		t.Fatalf("unexpected selection after address creation: %+v", first)
	}
	if second.AddressID != 7 || second.PaymentToken != "tok-1" {
		t.Fatalf("card change must rebind address and token together: %+v", second)
	}
}

func TestSelectAddressBindsSelectionBeforeCommit(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	gateway := &stubGateway{
		fetchSnapshotFunc: func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
			return domain.AccountSnapshot{Addresses: []domain.Address{testAddress(9)}}, nil
		},
		applySelectionsFunc: func(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error {
			return &commerce.StatusError{StatusCode: 500}
		},
	}
	service := newTestReconciler(t, repo, &stubCache{}, gateway)

	if _, err := service.SelectAddress(context.Background(), SelectAddressCommand{
		SessionID: "sess-1",
		AddressID: 9,
	}); err == nil {
		t.Fatal("expected a rejected selection to surface")
	}
	if stored := repo.stored("sess-1"); stored.ActiveShippingAddress != nil {
		t.Fatalf("rejected selection must not commit locally: %+v", stored.ActiveShippingAddress)
	}
}

func TestReconcilerViewCarriesVaultedCodeState(t *testing.T) {
	session := seedSession("sess-1")
	session.ActiveCreditCard = &domain.CreditCard{Token: "tok-1"}
	repo := newMemSessionRepo(session)
	vault := newMemVault()
	vault.Put("sess-1", "042")

	reconciler, err := NewReconcilerService(ReconcilerServiceDeps{
		Sessions: repo,
		Cache:    &stubCache{},
		Commerce: &stubGateway{},
		Widget:   widget.NewBus(),
		Vault:    vault,
		Checkout: testCheckoutConfig(),
	})
	if err != nil {
		t.Fatalf("construct reconciler: %v", err)
	}
	sessions, err := NewSessionService(SessionServiceDeps{
		Sessions: repo,
		Receipts: &stubReceiptRepo{},
		KV:       newMemKV(),
		Commerce: &stubGateway{},
		Vault:    vault,
	})
	if err != nil {
		t.Fatalf("construct session service: %v", err)
	}

	ctx := context.Background()
	fromSession, err := sessions.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fromReconciler, err := reconciler.SetAddingAddress(ctx, "sess-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !fromSession.Tabs.Payment.Completed {
		t.Fatalf("payment step should be complete with a card and vaulted code: %+v", fromSession.Tabs)
	}
	if fromReconciler.Tabs.Payment.Completed != fromSession.Tabs.Payment.Completed {
		t.Fatalf("delivery actions must not regress the payment step: %+v", fromReconciler.Tabs)
	}
}

func TestHoldAtLocationSubscriptionReapedAfterSessionTTL(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	bus := widget.NewBus()
	cfg := testCheckoutConfig()
	cfg.SessionTTL = 50 * time.Millisecond

	service, err := NewReconcilerService(ReconcilerServiceDeps{
		Sessions: repo,
		Cache:    &stubCache{},
		Commerce: &stubGateway{},
		Widget:   bus,
		Vault:    newMemVault(),
		Checkout: cfg,
	})
	if err != nil {
		t.Fatalf("construct reconciler: %v", err)
	}

	if _, err := service.SelectPickUpOption(context.Background(), PickUpOptionCommand{
		SessionID: "sess-1",
		Option:    domain.PickUpHoldAtLocation,
	}); err != nil {
		t.Fatalf("enter hold-at-location: %v", err)
	}
	if err := bus.Publish("sess-1", widget.Event{Type: "WIDGET_OPENED"}); err != nil {
		t.Fatalf("expected a live subscription, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errors.Is(bus.Publish("sess-1", widget.Event{Type: "WIDGET_OPENED"}), widget.ErrNoSubscriber) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscription survived long past the session lifetime")
}

func TestWidgetEventForDeletedSessionTearsDownSubscription(t *testing.T) {
	repo := newMemSessionRepo(seedSession("sess-1"))
	bus := widget.NewBus()

	service, err := NewReconcilerService(ReconcilerServiceDeps{
		Sessions: repo,
		Cache:    &stubCache{},
		Commerce: &stubGateway{},
		Widget:   bus,
		Vault:    newMemVault(),
		Checkout: testCheckoutConfig(),
	})
	if err != nil {
		t.Fatalf("construct reconciler: %v", err)
	}

	ctx := context.Background()
	if _, err := service.SelectPickUpOption(ctx, PickUpOptionCommand{
		SessionID: "sess-1",
		Option:    domain.PickUpHoldAtLocation,
	}); err != nil {
		t.Fatalf("enter hold-at-location: %v", err)
	}
	if err := repo.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if err := bus.Publish("sess-1", widget.Event{
		Type:    widget.EventCollectPointConfirmed,
		ID:      "evt-1",
		Address: widget.ProviderAddress{LocationID: "LKR-1", Name: "Lockers", Line1: "1 Main St", City: "Napa", ProvinceID: 5, PostalCode: "94559"},
	}); err != nil {
		t.Fatalf("publish widget event: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errors.Is(bus.Publish("sess-1", widget.Event{Type: "WIDGET_OPENED"}), widget.ErrNoSubscriber) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscription survived its session's deletion")
}
