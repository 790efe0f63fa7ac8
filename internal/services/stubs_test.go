package services

import (
	"context"
	"sync"
	"time"

	"github.com/clairmont-cellars/api/internal/commerce"
	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

// memSessionRepo is an in-memory SessionRepository honoring optimistic saves.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
	saveErr  error
}

func newMemSessionRepo(seed ...domain.CheckoutSession) *memSessionRepo {
	repo := &memSessionRepo{sessions: make(map[string]domain.CheckoutSession)}
	for _, session := range seed {
		repo.sessions[session.ID] = session
	}
	return repo
}

func (r *memSessionRepo) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, repositories.ErrSessionNotFound
	}
	return session, nil
}

func (r *memSessionRepo) Save(ctx context.Context, session domain.CheckoutSession, expected *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if expected != nil {
		current, ok := r.sessions[session.ID]
		if !ok {
			return repositories.ErrSessionNotFound
		}
		if !current.UpdatedAt.Equal(*expected) {
			return repositories.ErrVersionConflict
		}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memSessionRepo) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *memSessionRepo) stored(sessionID string) domain.CheckoutSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

type stubReceiptRepo struct {
	getFunc    func(ctx context.Context, sessionID string) (domain.Receipt, error)
	saveFunc   func(ctx context.Context, sessionID string, receipt domain.Receipt) error
	deleteFunc func(ctx context.Context, sessionID string) error
}

func (r *stubReceiptRepo) Get(ctx context.Context, sessionID string) (domain.Receipt, error) {
	if r.getFunc == nil {
		return domain.Receipt{}, repositories.ErrReceiptNotFound
	}
	return r.getFunc(ctx, sessionID)
}

func (r *stubReceiptRepo) Save(ctx context.Context, sessionID string, receipt domain.Receipt) error {
	if r.saveFunc == nil {
		return nil
	}
	return r.saveFunc(ctx, sessionID, receipt)
}

func (r *stubReceiptRepo) Delete(ctx context.Context, sessionID string) error {
	if r.deleteFunc == nil {
		return nil
	}
	return r.deleteFunc(ctx, sessionID)
}

// memKV is an in-memory SessionKV.
type memKV struct {
	mu     sync.Mutex
	values map[string]map[string]string
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]map[string]string)}
}

func (kv *memKV) Get(ctx context.Context, sessionID, key string) (string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	value, ok := kv.values[sessionID][key]
	if !ok {
		return "", repositories.ErrCacheMiss
	}
	return value, nil
}

func (kv *memKV) Set(ctx context.Context, sessionID, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.values[sessionID] == nil {
		kv.values[sessionID] = make(map[string]string)
	}
	kv.values[sessionID][key] = value
	return nil
}

func (kv *memKV) Delete(ctx context.Context, sessionID, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.values[sessionID], key)
	return nil
}

// memVault is an in-memory cvvVault.
type memVault struct {
	mu    sync.Mutex
	codes map[string]string
}

func newMemVault() *memVault {
	return &memVault{codes: make(map[string]string)}
}

func (v *memVault) Put(sessionID, code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[sessionID] = code
}

func (v *memVault) Peek(sessionID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	code, ok := v.codes[sessionID]
	return code, ok
}

func (v *memVault) Has(sessionID string) bool {
	_, ok := v.Peek(sessionID)
	return ok
}

func (v *memVault) Delete(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.codes, sessionID)
}

// stubCache implements repositories.CheckoutCache with func fields; unset
// getters report a miss, unset setters succeed.
type stubCache struct {
	getSnapshotFunc func(ctx context.Context, cartID string) (domain.AccountSnapshot, error)
	setSnapshotFunc func(ctx context.Context, cartID string, snapshot domain.AccountSnapshot) error
	delSnapshotFunc func(ctx context.Context, cartID string) error

	getMethodsFunc func(ctx context.Context, cartID string) ([]domain.ShippingMethod, error)
	setMethodsFunc func(ctx context.Context, cartID string, methods []domain.ShippingMethod) error

	getBalanceFunc func(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error)
	setBalanceFunc func(ctx context.Context, shopperID string, balance domain.SkyWalletBalance) error

	getSummaryFunc func(ctx context.Context, cartID string) (domain.OrderSummary, error)
	setSummaryFunc func(ctx context.Context, cartID string, summary domain.OrderSummary) error

	invalidateFunc func(ctx context.Context, cartID, provinceKey string) error
}

func (c *stubCache) GetAccountSnapshot(ctx context.Context, cartID string) (domain.AccountSnapshot, error) {
	if c.getSnapshotFunc == nil {
		return domain.AccountSnapshot{}, repositories.ErrCacheMiss
	}
	return c.getSnapshotFunc(ctx, cartID)
}

func (c *stubCache) SetAccountSnapshot(ctx context.Context, cartID string, snapshot domain.AccountSnapshot) error {
	if c.setSnapshotFunc == nil {
		return nil
	}
	return c.setSnapshotFunc(ctx, cartID, snapshot)
}

func (c *stubCache) DeleteAccountSnapshot(ctx context.Context, cartID string) error {
	if c.delSnapshotFunc == nil {
		return nil
	}
	return c.delSnapshotFunc(ctx, cartID)
}

func (c *stubCache) GetShippingMethods(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
	if c.getMethodsFunc == nil {
		return nil, repositories.ErrCacheMiss
	}
	return c.getMethodsFunc(ctx, cartID)
}

func (c *stubCache) SetShippingMethods(ctx context.Context, cartID string, methods []domain.ShippingMethod) error {
	if c.setMethodsFunc == nil {
		return nil
	}
	return c.setMethodsFunc(ctx, cartID, methods)
}

func (c *stubCache) DeleteShippingMethods(ctx context.Context, cartID string) error { return nil }

func (c *stubCache) GetBalance(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error) {
	if c.getBalanceFunc == nil {
		return domain.SkyWalletBalance{}, repositories.ErrCacheMiss
	}
	return c.getBalanceFunc(ctx, shopperID)
}

func (c *stubCache) SetBalance(ctx context.Context, shopperID string, balance domain.SkyWalletBalance) error {
	if c.setBalanceFunc == nil {
		return nil
	}
	return c.setBalanceFunc(ctx, shopperID, balance)
}

func (c *stubCache) DeleteBalance(ctx context.Context, shopperID string) error { return nil }

func (c *stubCache) GetOrderSummary(ctx context.Context, cartID string) (domain.OrderSummary, error) {
	if c.getSummaryFunc == nil {
		return domain.OrderSummary{}, repositories.ErrCacheMiss
	}
	return c.getSummaryFunc(ctx, cartID)
}

func (c *stubCache) SetOrderSummary(ctx context.Context, cartID string, summary domain.OrderSummary) error {
	if c.setSummaryFunc == nil {
		return nil
	}
	return c.setSummaryFunc(ctx, cartID, summary)
}

func (c *stubCache) DeleteOrderSummary(ctx context.Context, cartID string) error { return nil }

func (c *stubCache) InvalidateCart(ctx context.Context, cartID, provinceKey string) error {
	if c.invalidateFunc == nil {
		return nil
	}
	return c.invalidateFunc(ctx, cartID, provinceKey)
}

// stubGateway implements CommerceGateway with func fields.
type stubGateway struct {
	createAddressFunc   func(ctx context.Context, cartID string, address domain.Address) (int64, error)
	applySelectionsFunc func(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error
	updateMethodFunc    func(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error)
	addGiftMessageFunc  func(ctx context.Context, orderDisplayID string, message domain.GiftMessage) error
	payFunc             func(ctx context.Context, req commerce.PayForOrderRequest) (string, error)
	saveLastUsedFunc    func(ctx context.Context, shopperID string, address domain.Address) error
	fetchSnapshotFunc   func(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error)
	fetchMethodsFunc    func(ctx context.Context, cartID string) ([]domain.ShippingMethod, error)
	fetchBalanceFunc    func(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error)
	fetchSummaryFunc    func(ctx context.Context, cartID string) (domain.OrderSummary, error)
	fetchCSRFFunc       func(ctx context.Context) (string, error)
	signOutGuestFunc    func(ctx context.Context, guestShopperID, csrfToken string) error
}

func (g *stubGateway) CreateShippingAddress(ctx context.Context, cartID string, address domain.Address) (int64, error) {
	return g.createAddressFunc(ctx, cartID, address)
}

func (g *stubGateway) ApplyCheckoutSelections(ctx context.Context, req commerce.ApplyCheckoutSelectionsRequest) error {
	if g.applySelectionsFunc == nil {
		return nil
	}
	return g.applySelectionsFunc(ctx, req)
}

func (g *stubGateway) UpdateShippingMethod(ctx context.Context, cartID, methodID string) (commerce.UpdateShippingMethodResult, error) {
	if g.updateMethodFunc == nil {
		return commerce.UpdateShippingMethodResult{}, nil
	}
	return g.updateMethodFunc(ctx, cartID, methodID)
}

func (g *stubGateway) AddGiftMessage(ctx context.Context, orderDisplayID string, message domain.GiftMessage) error {
	if g.addGiftMessageFunc == nil {
		return nil
	}
	return g.addGiftMessageFunc(ctx, orderDisplayID, message)
}

func (g *stubGateway) PayForOrder(ctx context.Context, req commerce.PayForOrderRequest) (string, error) {
	return g.payFunc(ctx, req)
}

func (g *stubGateway) SaveLastUsedAddress(ctx context.Context, shopperID string, address domain.Address) error {
	if g.saveLastUsedFunc == nil {
		return nil
	}
	return g.saveLastUsedFunc(ctx, shopperID, address)
}

func (g *stubGateway) FetchAccountSnapshot(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
	return g.fetchSnapshotFunc(ctx, cartID, addressHint)
}

func (g *stubGateway) FetchShippingMethods(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
	return g.fetchMethodsFunc(ctx, cartID)
}

func (g *stubGateway) FetchBalance(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error) {
	return g.fetchBalanceFunc(ctx, shopperID)
}

func (g *stubGateway) FetchOrderSummary(ctx context.Context, cartID string) (domain.OrderSummary, error) {
	return g.fetchSummaryFunc(ctx, cartID)
}

func (g *stubGateway) FetchCSRFToken(ctx context.Context) (string, error) {
	if g.fetchCSRFFunc == nil {
		return "csrf-token", nil
	}
	return g.fetchCSRFFunc(ctx)
}

func (g *stubGateway) SignOutGuest(ctx context.Context, guestShopperID, csrfToken string) error {
	if g.signOutGuestFunc == nil {
		return nil
	}
	return g.signOutGuestFunc(ctx, guestShopperID, csrfToken)
}
