package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/config"
)

const (
	defaultTimeout = 8 * time.Second
	apiKeyHeader   = "X-Api-Key"
	csrfHeader     = "X-Csrf-Token"

	maxResponseBytes = 1 << 20
)

// ErrMissingCartID is returned when an operation requires a cart id and none
// was provided.
var ErrMissingCartID = errors.New("commerce: missing cart id")

// EnvelopeError carries a Success:false response from the commerce backend.
// The message is shopper-facing and surfaced verbatim as a toast.
type EnvelopeError struct {
	Code    string
	Message string
}

func (e *EnvelopeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("commerce: backend rejected request (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("commerce: backend rejected request: %s", e.Message)
}

// StatusError reports a transport-level failure (HTTP status >= 400) where no
// envelope was decoded.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("commerce: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client issues calls against the commerce backend. Every response is wrapped
// in a {Success, Error{Code, Message}} envelope; a transport-level success
// with Success:false becomes an *EnvelopeError.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOption customises Client instances.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client; used by tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// NewClient constructs a commerce backend client from configuration.
func NewClient(cfg config.CommerceConfig, opts ...ClientOption) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("commerce: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

type envelope struct {
	Success bool `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e envelope) err() error {
	if e.Success {
		return nil
	}
	out := &EnvelopeError{}
	if e.Error != nil {
		out.Code = e.Error.Code
		out.Message = e.Error.Message
	}
	return out
}

func (c *Client) do(ctx context.Context, method string, pathParts []string, query url.Values, body any, extraHeaders map[string]string) (json.RawMessage, error) {
	endpoint, err := url.JoinPath(c.baseURL, pathParts...)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	for key, value := range extraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("commerce: decode envelope: %w", err)
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	return raw, nil
}

func decodeInto(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("commerce: decode response: %w", err)
	}
	return nil
}

// CreateShippingAddress persists a new shipping address for the cart and
// returns the backend-assigned address id.
func (c *Client) CreateShippingAddress(ctx context.Context, cartID string, address domain.Address) (int64, error) {
	if strings.TrimSpace(cartID) == "" {
		return 0, ErrMissingCartID
	}

	raw, err := c.do(ctx, http.MethodPost, []string{"addresses"}, nil, map[string]any{
		"cartId":  cartID,
		"address": address,
	}, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		AddressID int64 `json:"addressId"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return 0, err
	}
	return resp.AddressID, nil
}

// ApplyCheckoutSelectionsRequest binds a resolved address and payment token
// to the cart's checkout.
type ApplyCheckoutSelectionsRequest struct {
	CartID          string `json:"cartId"`
	AddressID       int64  `json:"addressId"`
	PaymentToken    string `json:"paymentToken,omitempty"`
	PersonDisplayID string `json:"personDisplayId,omitempty"`
}

// ApplyCheckoutSelections commits the address/payment pair as the cart's
// authoritative checkout selection.
func (c *Client) ApplyCheckoutSelections(ctx context.Context, req ApplyCheckoutSelectionsRequest) error {
	if strings.TrimSpace(req.CartID) == "" {
		return ErrMissingCartID
	}
	_, err := c.do(ctx, http.MethodPost, []string{"checkout", "selections"}, nil, req, nil)
	return err
}

// UpdateShippingMethodResult mirrors the backend payload returned when the
// shipping method changes; figures refresh the order total display.
type UpdateShippingMethodResult struct {
	Subtotal  int64 `json:"subtotal"`
	SkyWallet int64 `json:"skywallet"`
}

// UpdateShippingMethod switches the cart's shipping method.
func (c *Client) UpdateShippingMethod(ctx context.Context, cartID, shippingMethodID string) (UpdateShippingMethodResult, error) {
	if strings.TrimSpace(cartID) == "" {
		return UpdateShippingMethodResult{}, ErrMissingCartID
	}

	raw, err := c.do(ctx, http.MethodPut, []string{"carts", cartID, "shipping-method"}, nil, map[string]string{
		"shippingMethodId": shippingMethodID,
	}, nil)
	if err != nil {
		return UpdateShippingMethodResult{}, err
	}

	var resp UpdateShippingMethodResult
	if err := decodeInto(raw, &resp); err != nil {
		return UpdateShippingMethodResult{}, err
	}
	return resp, nil
}

// AddGiftMessage attaches a gift message to the order.
func (c *Client) AddGiftMessage(ctx context.Context, orderDisplayID string, message domain.GiftMessage) error {
	_, err := c.do(ctx, http.MethodPost, []string{"orders", "gift-message"}, nil, map[string]string{
		"orderDisplayId": orderDisplayID,
		"emailAddress":   message.RecipientEmail,
		"message":        message.Message,
	}, nil)
	return err
}

// PayForOrderRequest carries the final submission. The verification code is
// already encrypted; the plaintext never reaches this package.
type PayForOrderRequest struct {
	CartID            string `json:"cartId"`
	EncryptedCVV      string `json:"cvv"`
	SkyWalletAmount   int64  `json:"skyWalletAmount"`
	ReplicatedSiteURL string `json:"replicatedSiteUrl"`
}

// PayForOrder submits the order and returns the backend-assigned display id.
func (c *Client) PayForOrder(ctx context.Context, req PayForOrderRequest) (string, error) {
	if strings.TrimSpace(req.CartID) == "" {
		return "", ErrMissingCartID
	}

	raw, err := c.do(ctx, http.MethodPost, []string{"orders", "pay"}, nil, req, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		OrderDisplayID string `json:"orderDisplayId"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return "", err
	}
	return resp.OrderDisplayID, nil
}

// SaveLastUsedAddress records the address for future pre-fill. Callers treat
// failures as best-effort.
func (c *Client) SaveLastUsedAddress(ctx context.Context, shopperID string, address domain.Address) error {
	_, err := c.do(ctx, http.MethodPut, []string{"shoppers", shopperID, "last-used-address"}, nil, address, nil)
	return err
}

// FetchAccountSnapshot retrieves the cart-scoped address and credit-card
// list. A non-zero addressHint asks the backend to include a just-created
// address that may not have reached the default listing yet.
func (c *Client) FetchAccountSnapshot(ctx context.Context, cartID string, addressHint int64) (domain.AccountSnapshot, error) {
	if strings.TrimSpace(cartID) == "" {
		return domain.AccountSnapshot{}, ErrMissingCartID
	}

	query := url.Values{}
	if addressHint > 0 {
		query.Set("addressHint", fmt.Sprintf("%d", addressHint))
	}

	raw, err := c.do(ctx, http.MethodGet, []string{"carts", cartID, "account"}, query, nil, nil)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	var resp struct {
		Addresses   []domain.Address    `json:"addresses"`
		CreditCards []domain.CreditCard `json:"creditCards"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return domain.AccountSnapshot{}, err
	}
	return domain.AccountSnapshot{
		Addresses:   resp.Addresses,
		CreditCards: resp.CreditCards,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// FetchShippingMethods lists the shipping methods available to the cart.
func (c *Client) FetchShippingMethods(ctx context.Context, cartID string) ([]domain.ShippingMethod, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, ErrMissingCartID
	}

	raw, err := c.do(ctx, http.MethodGet, []string{"carts", cartID, "shipping-methods"}, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ShippingMethods []domain.ShippingMethod `json:"shippingMethods"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return nil, err
	}
	return resp.ShippingMethods, nil
}

// FetchBalance retrieves the shopper's prepaid balance buckets.
func (c *Client) FetchBalance(ctx context.Context, shopperID string) (domain.SkyWalletBalance, error) {
	if strings.TrimSpace(shopperID) == "" {
		return domain.SkyWalletBalance{}, errors.New("commerce: missing shopper id")
	}

	raw, err := c.do(ctx, http.MethodGet, []string{"shoppers", shopperID, "sky-wallet"}, nil, nil, nil)
	if err != nil {
		return domain.SkyWalletBalance{}, err
	}

	var resp struct {
		Buckets []domain.SkyWalletBucket `json:"buckets"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return domain.SkyWalletBalance{}, err
	}
	return domain.SkyWalletBalance{Buckets: resp.Buckets}, nil
}

// FetchOrderSummary retrieves the cart lines and price breakdown shown on
// the order total display. The submission sequencer freezes this snapshot
// into the receipt rather than re-fetching.
func (c *Client) FetchOrderSummary(ctx context.Context, cartID string) (domain.OrderSummary, error) {
	if strings.TrimSpace(cartID) == "" {
		return domain.OrderSummary{}, ErrMissingCartID
	}

	raw, err := c.do(ctx, http.MethodGet, []string{"carts", cartID, "summary"}, nil, nil, nil)
	if err != nil {
		return domain.OrderSummary{}, err
	}

	var resp struct {
		Lines     []domain.ReceiptLine  `json:"lines"`
		Breakdown domain.PriceBreakdown `json:"breakdown"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return domain.OrderSummary{}, err
	}
	return domain.OrderSummary{
		Lines:     resp.Lines,
		Breakdown: resp.Breakdown,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// FetchCSRFToken obtains the token required by the guest sign-out endpoint.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	raw, err := c.do(ctx, http.MethodGet, []string{"auth", "csrf"}, nil, nil, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := decodeInto(raw, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// SignOutGuest tears down the backend's ephemeral guest session. Callers
// treat failures as best-effort.
func (c *Client) SignOutGuest(ctx context.Context, guestShopperID, csrfToken string) error {
	_, err := c.do(ctx, http.MethodPost, []string{"auth", "guest", "sign-out"}, nil, map[string]string{
		"shopperId": guestShopperID,
	}, map[string]string{csrfHeader: csrfToken})
	return err
}
