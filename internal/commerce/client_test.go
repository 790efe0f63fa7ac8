package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.CommerceConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client, server
}

func TestCreateShippingAddress(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/addresses" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Fatalf("expected api key header, got %q", got)
		}

		var body struct {
			CartID  string         `json:"cartId"`
			Address domain.Address `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.CartID != "cart-1" || body.Address.Street1 != "12 Vineyard Way" {
			t.Fatalf("unexpected body: %+v", body)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"addressId": 4401,
		})
	})

	id, err := client.CreateShippingAddress(context.Background(), "cart-1", domain.Address{
		FirstName: "Dana",
		LastName:  "Reyes",
		Street1:   "12 Vineyard Way",
		City:      "Napa",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 4401 {
		t.Fatalf("expected address id 4401, got %d", id)
	}
}

func TestEnvelopeFailureCarriesBackendMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error": map[string]string{
				"code":    "card_declined",
				"message": "Card declined",
			},
		})
	})

	_, err := client.PayForOrder(context.Background(), PayForOrderRequest{
		CartID:       "cart-1",
		EncryptedCVV: "sealed",
	})

	var envErr *EnvelopeError
	if !errors.As(err, &envErr) {
		t.Fatalf("expected EnvelopeError, got %v", err)
	}
	if envErr.Message != "Card declined" || envErr.Code != "card_declined" {
		t.Fatalf("unexpected envelope error: %+v", envErr)
	}
}

func TestTransportFailureIsStatusError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := client.FetchShippingMethods(context.Background(), "cart-1")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", statusErr.StatusCode)
	}
}

func TestFetchAccountSnapshotForwardsHint(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carts/cart-1/account" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("addressHint"); got != "4401" {
			t.Fatalf("expected address hint 4401, got %q", got)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"addresses": []domain.Address{
				{ID: 4401, Street1: "12 Vineyard Way", City: "Napa"},
			},
			"creditCards": []domain.CreditCard{
				{Token: "tok_1", Last4: "4242"},
			},
		})
	})

	snapshot, err := client.FetchAccountSnapshot(context.Background(), "cart-1", 4401)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := snapshot.AddressByID(4401); !ok {
		t.Fatalf("expected hinted address in snapshot")
	}
	if len(snapshot.CreditCards) != 1 || snapshot.CreditCards[0].Token != "tok_1" {
		t.Fatalf("unexpected credit cards: %+v", snapshot.CreditCards)
	}
}

func TestUpdateShippingMethod(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/carts/cart-1/shipping-method" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["shippingMethodId"] != "ground-03" {
			t.Fatalf("unexpected method id: %q", body["shippingMethodId"])
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"subtotal": 18500,
		})
	})

	result, err := client.UpdateShippingMethod(context.Background(), "cart-1", "ground-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Subtotal != 18500 {
		t.Fatalf("unexpected subtotal: %d", result.Subtotal)
	}
}

func TestPayForOrderNeverSendsPlainCVVField(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["cvv"] != "sealed-payload" {
			t.Fatalf("expected encrypted payload, got %v", body["cvv"])
		}
		if body["skyWalletAmount"] != float64(2500) {
			t.Fatalf("expected sky wallet amount forwarded verbatim, got %v", body["skyWalletAmount"])
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"orderDisplayId": "CC-100045",
		})
	})

	orderID, err := client.PayForOrder(context.Background(), PayForOrderRequest{
		CartID:            "cart-1",
		EncryptedCVV:      "sealed-payload",
		SkyWalletAmount:   2500,
		ReplicatedSiteURL: "shop",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "CC-100045" {
		t.Fatalf("unexpected order id: %s", orderID)
	}
}

func TestRequiresCartID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})

	if _, err := client.CreateShippingAddress(context.Background(), "", domain.Address{}); !errors.Is(err, ErrMissingCartID) {
		t.Fatalf("expected ErrMissingCartID, got %v", err)
	}
	if _, err := client.FetchOrderSummary(context.Background(), ""); !errors.Is(err, ErrMissingCartID) {
		t.Fatalf("expected ErrMissingCartID, got %v", err)
	}
}

func TestSignOutGuestSendsCSRFHeader(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/guest/sign-out" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Csrf-Token"); got != "csrf-123" {
			t.Fatalf("expected csrf header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	if err := client.SignOutGuest(context.Background(), "guest_abc", "csrf-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
