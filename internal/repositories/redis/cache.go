package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

func accountKey(cartID string) string  { return fmt.Sprintf("checkout:account:%s", cartID) }
func methodsKey(cartID string) string  { return fmt.Sprintf("checkout:methods:%s", cartID) }
func balanceKey(shopper string) string { return fmt.Sprintf("checkout:balance:%s", shopper) }
func summaryKey(cartID string) string  { return fmt.Sprintf("checkout:summary:%s", cartID) }
func cartKey(province string) string   { return fmt.Sprintf("checkout:cart:%s", province) }

// CheckoutCache is the Redis read-through cache for backend-derived reads.
// TTLs carry a small jitter so cart-scoped entries do not expire in lockstep.
type CheckoutCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (c *CheckoutCache) ttl() time.Duration {
	jitter := time.Duration(rand.Intn(60)) * time.Second
	return c.baseTTL + jitter
}

func (c *CheckoutCache) getJSON(ctx context.Context, op, key string, out any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return repositories.ErrCacheMiss
	}
	if err != nil {
		return wrapErr(op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (c *CheckoutCache) setJSON(ctx context.Context, op, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return wrapErr(op, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl()).Err(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (c *CheckoutCache) del(ctx context.Context, op string, keys ...string) error {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// GetAccountSnapshot returns the cached address/credit-card list for the cart.
func (c *CheckoutCache) GetAccountSnapshot(ctx context.Context, cartID string) (domain.AccountSnapshot, error) {
	var snapshot domain.AccountSnapshot
	if err := c.getJSON(ctx, "account cache get", accountKey(cartID), &snapshot); err != nil {
		return domain.AccountSnapshot{}, err
	}
	return snapshot, nil
}

// SetAccountSnapshot stores the address/credit-card list.
func (c *CheckoutCache) SetAccountSnapshot(ctx context.Context, cartID string, snapshot domain.AccountSnapshot) error {
	return c.setJSON(ctx, "account cache set", accountKey(cartID), snapshot)
}

// DeleteAccountSnapshot invalidates the list, forcing a refetch.
func (c *CheckoutCache) DeleteAccountSnapshot(ctx context.Context, cartID string) error {
	return c.del(ctx, "account cache delete", accountKey(cartID))
}

// GetShippingMethods returns the cached shipping-method list for the cart.
func (c *CheckoutCache) GetShippingMethods(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
	var methods []domain.ShippingMethod
	if err := c.getJSON(ctx, "methods cache get", methodsKey(cartID), &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// SetShippingMethods stores the shipping-method list.
func (c *CheckoutCache) SetShippingMethods(ctx context.Context, cartID string, methods []domain.ShippingMethod) error {
	return c.setJSON(ctx, "methods cache set", methodsKey(cartID), methods)
}

// DeleteShippingMethods invalidates the shipping-method list.
func (c *CheckoutCache) DeleteShippingMethods(ctx context.Context, cartID string) error {
	return c.del(ctx, "methods cache delete", methodsKey(cartID))
}

// GetBalance returns the cached prepaid balance for the shopper.
func (c *CheckoutCache) GetBalance(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error) {
	var balance domain.SkyWalletBalance
	if err := c.getJSON(ctx, "balance cache get", balanceKey(shopperID), &balance); err != nil {
		return domain.SkyWalletBalance{}, err
	}
	return balance, nil
}

// SetBalance stores the prepaid balance.
func (c *CheckoutCache) SetBalance(ctx context.Context, shopperID string, balance domain.SkyWalletBalance) error {
	return c.setJSON(ctx, "balance cache set", balanceKey(shopperID), balance)
}

// DeleteBalance invalidates the prepaid balance.
func (c *CheckoutCache) DeleteBalance(ctx context.Context, shopperID string) error {
	return c.del(ctx, "balance cache delete", balanceKey(shopperID))
}

// GetOrderSummary returns the cached cart lines and price breakdown.
func (c *CheckoutCache) GetOrderSummary(ctx context.Context, cartID string) (domain.OrderSummary, error) {
	var summary domain.OrderSummary
	if err := c.getJSON(ctx, "summary cache get", summaryKey(cartID), &summary); err != nil {
		return domain.OrderSummary{}, err
	}
	return summary, nil
}

// SetOrderSummary stores the cart lines and price breakdown.
func (c *CheckoutCache) SetOrderSummary(ctx context.Context, cartID string, summary domain.OrderSummary) error {
	return c.setJSON(ctx, "summary cache set", summaryKey(cartID), summary)
}

// DeleteOrderSummary invalidates the summary.
func (c *CheckoutCache) DeleteOrderSummary(ctx context.Context, cartID string) error {
	return c.del(ctx, "summary cache delete", summaryKey(cartID))
}

// InvalidateCart drops every cache entry derived from the cart plus the
// province-keyed cart entry so the next fetch reflects a cleared cart.
func (c *CheckoutCache) InvalidateCart(ctx context.Context, cartID, provinceKey string) error {
	keys := []string{
		accountKey(cartID),
		methodsKey(cartID),
		summaryKey(cartID),
	}
	if provinceKey != "" {
		keys = append(keys, cartKey(provinceKey))
	}
	return c.del(ctx, "cart invalidate", keys...)
}
