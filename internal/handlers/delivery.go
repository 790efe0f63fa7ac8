package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
	"github.com/clairmont-cellars/api/internal/services"
)

// DeliveryHandlers exposes the address and shipping method endpoints.
type DeliveryHandlers struct {
	authn      *auth.Authenticator
	reconciler services.ReconcilerService
}

// NewDeliveryHandlers constructs delivery handlers guarded by shopper authentication.
func NewDeliveryHandlers(authn *auth.Authenticator, reconciler services.ReconcilerService) *DeliveryHandlers {
	return &DeliveryHandlers{authn: authn, reconciler: reconciler}
}

// Routes registers the delivery endpoints under the provided router.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
	}
	group.Get("/session/{sessionID}/shipping-methods", h.listShippingMethods)
	group.Put("/session/{sessionID}/shipping-method", h.selectShippingMethod)
	group.Get("/session/{sessionID}/account-snapshot", h.accountSnapshot)
	group.Post("/session/{sessionID}/addresses", h.createAddress)
	group.Put("/session/{sessionID}/address", h.selectAddress)
	group.Put("/session/{sessionID}/guest-address", h.submitGuestAddress)
	group.Put("/session/{sessionID}/adding-address", h.setAddingAddress)
	group.Put("/session/{sessionID}/pick-up", h.selectPickUpOption)
}

func (h *DeliveryHandlers) listShippingMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	methods, err := h.reconciler.ListShippingMethods(ctx, sessionIDParam(r))
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"shippingMethods": methods})
}

type selectShippingMethodRequest struct {
	ShippingMethodID string `json:"shippingMethodId"`
}

func (h *DeliveryHandlers) selectShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectShippingMethodRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.SelectShippingMethod(ctx, services.SelectShippingMethodCommand{
		SessionID:        sessionIDParam(r),
		ShippingMethodID: strings.TrimSpace(req.ShippingMethodID),
	})
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *DeliveryHandlers) accountSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.reconciler.AccountSnapshot(ctx, sessionIDParam(r))
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, snapshot)
}

type addressRequest struct {
	Address domain.Address `json:"address"`
}

func (h *DeliveryHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || !identity.Registered() {
		httpx.WriteError(ctx, w, httpx.NewError("registered_only", "stored addresses require an account", http.StatusForbidden))
		return
	}

	var req addressRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.CreateAddress(ctx, services.CreateAddressCommand{
		SessionID: sessionIDParam(r),
		Address:   req.Address,
	})
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, viewResponse(view))
}

type selectAddressRequest struct {
	AddressID int64 `json:"addressId"`
}

func (h *DeliveryHandlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectAddressRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.SelectAddress(ctx, services.SelectAddressCommand{
		SessionID: sessionIDParam(r),
		AddressID: req.AddressID,
	})
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *DeliveryHandlers) submitGuestAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addressRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.SubmitGuestAddress(ctx, services.GuestAddressCommand{
		SessionID: sessionIDParam(r),
		Address:   req.Address,
	})
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *DeliveryHandlers) setAddingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req toggleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.SetAddingAddress(ctx, sessionIDParam(r), req.Adding)
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type pickUpOptionRequest struct {
	Option string `json:"option"`
}

func (h *DeliveryHandlers) selectPickUpOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pickUpOptionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.reconciler.SelectPickUpOption(ctx, services.PickUpOptionCommand{
		SessionID: sessionIDParam(r),
		Option:    domain.PickUpOption(strings.TrimSpace(req.Option)),
	})
	if err != nil {
		h.writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *DeliveryHandlers) writeDeliveryError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommerceError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrReconcilerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrStaleReconciliation):
		httpx.WriteError(ctx, w, httpx.NewError("stale_request", "a newer change superseded this request", http.StatusConflict))
	case errors.Is(err, services.ErrAddressUnresolved):
		httpx.WriteError(ctx, w, httpx.NewError("address_unresolved", "the address was saved but could not be confirmed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "the session changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrReconcilerUnavailable), errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery options are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("delivery_error", "failed to process the request", http.StatusInternalServerError))
	}
}
