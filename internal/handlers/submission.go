package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
	"github.com/clairmont-cellars/api/internal/repositories"
	"github.com/clairmont-cellars/api/internal/services"
)

const (
	submitRateLimit  = 5
	submitRateWindow = time.Minute
)

// SubmissionHandlers exposes the order submission and receipt endpoints.
type SubmissionHandlers struct {
	authn      *auth.Authenticator
	submission services.SubmissionService
	throttle   *submitThrottle
}

// NewSubmissionHandlers constructs submission handlers guarded by shopper
// authentication and a per-session submit rate limit.
func NewSubmissionHandlers(authn *auth.Authenticator, submission services.SubmissionService) *SubmissionHandlers {
	return &SubmissionHandlers{
		authn:      authn,
		submission: submission,
		throttle:   newSubmitThrottle(submitRateLimit, submitRateWindow, nil),
	}
}

// Routes registers the submission endpoints under the provided router.
func (h *SubmissionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
	}
	group.Post("/session/{sessionID}/submit", h.submit)
	group.Get("/session/{sessionID}/receipt", h.receipt)
}

type submitResponse struct {
	Receipt  services.Receipt `json:"receipt"`
	Redirect string           `json:"redirect"`
}

func (h *SubmissionHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := sessionIDParam(r)

	if !h.throttle.allow(sessionID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many submission attempts; wait a moment and retry", http.StatusTooManyRequests))
		return
	}

	result, err := h.submission.Submit(ctx, services.SubmitOrderCommand{SessionID: sessionID})
	if err != nil {
		h.writeSubmissionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, submitResponse{
		Receipt:  result.Receipt,
		Redirect: result.Redirect,
	})
}

func (h *SubmissionHandlers) receipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	receipt, err := h.submission.Receipt(ctx, sessionIDParam(r))
	if err != nil {
		if errors.Is(err, repositories.ErrReceiptNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("receipt_not_found", "no receipt exists for this session", http.StatusNotFound))
			return
		}
		h.writeSubmissionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, receipt)
}

func (h *SubmissionHandlers) writeSubmissionError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommerceError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrSubmissionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "your order is already being submitted", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionMissingCVV):
		httpx.WriteError(ctx, w, httpx.NewError("cvv_required", "re-enter your card verification code to continue", http.StatusUnprocessableEntity).WithField("cvv"))
	case errors.Is(err, services.ErrSubmissionNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_incomplete", "choose a delivery address and shipping method first", http.StatusConflict))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "the session changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("submission_unavailable", "order submission is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("submission_error", "failed to submit the order", http.StatusInternalServerError))
	}
}
