package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
	"github.com/clairmont-cellars/api/internal/services"
)

// SkyWalletHandlers exposes the prepaid balance and order summary endpoints.
type SkyWalletHandlers struct {
	authn  *auth.Authenticator
	wallet services.SkyWalletService
}

// NewSkyWalletHandlers constructs sky wallet handlers guarded by shopper authentication.
func NewSkyWalletHandlers(authn *auth.Authenticator, wallet services.SkyWalletService) *SkyWalletHandlers {
	return &SkyWalletHandlers{authn: authn, wallet: wallet}
}

// Routes registers the sky wallet endpoints under the provided router.
func (h *SkyWalletHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
	}
	group.Get("/session/{sessionID}/sky-wallet", h.balance)
	group.Put("/session/{sessionID}/sky-wallet", h.apply)
	group.Get("/session/{sessionID}/summary", h.orderSummary)
}

func (h *SkyWalletHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balance, err := h.wallet.Balance(ctx, sessionIDParam(r))
	if err != nil {
		h.writeWalletError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"buckets": balance.Buckets,
		"total":   balance.Total(),
	})
}

type applySkyWalletRequest struct {
	Amount int64 `json:"amount"`
}

func (h *SkyWalletHandlers) apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req applySkyWalletRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.wallet.Apply(ctx, services.ApplySkyWalletCommand{
		SessionID: sessionIDParam(r),
		Amount:    req.Amount,
	})
	if err != nil {
		h.writeWalletError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *SkyWalletHandlers) orderSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.wallet.OrderSummary(ctx, sessionIDParam(r))
	if err != nil {
		h.writeWalletError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

func (h *SkyWalletHandlers) writeWalletError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommerceError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrSkyWalletInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_amount", "the applied amount must not be negative", http.StatusBadRequest).WithField("skyWallet"))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "the session changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("sky_wallet_unavailable", "the balance service is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("sky_wallet_error", "failed to process the request", http.StatusInternalServerError))
	}
}
