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

// GiftMessageHandlers exposes the gift message lifecycle over HTTP.
type GiftMessageHandlers struct {
	authn *auth.Authenticator
	gifts services.GiftMessageService
}

// NewGiftMessageHandlers constructs gift message handlers guarded by shopper authentication.
func NewGiftMessageHandlers(authn *auth.Authenticator, gifts services.GiftMessageService) *GiftMessageHandlers {
	return &GiftMessageHandlers{authn: authn, gifts: gifts}
}

// Routes registers the gift message endpoints under the provided router.
func (h *GiftMessageHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
	}
	group.Get("/session/{sessionID}/gift-message", h.state)
	group.Post("/session/{sessionID}/gift-message/open", h.open)
	group.Post("/session/{sessionID}/gift-message/cancel", h.cancel)
	group.Put("/session/{sessionID}/gift-message", h.commit)
	group.Delete("/session/{sessionID}/gift-message", h.remove)
}

type giftMessageStateResponse struct {
	State   domain.GiftMessageState `json:"state"`
	Message *domain.GiftMessage     `json:"message,omitempty"`
}

func (h *GiftMessageHandlers) state(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, message, err := h.gifts.State(ctx, sessionIDParam(r))
	if err != nil {
		h.writeGiftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, giftMessageStateResponse{State: state, Message: message})
}

func (h *GiftMessageHandlers) open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.gifts.Open(ctx, sessionIDParam(r))
	if err != nil {
		h.writeGiftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *GiftMessageHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.gifts.Cancel(ctx, sessionIDParam(r))
	if err != nil {
		h.writeGiftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type commitGiftMessageRequest struct {
	Message         string `json:"message"`
	RecipientEmail  string `json:"recipientEmail"`
	CartHasGiftCard bool   `json:"cartHasGiftCard"`
}

func (h *GiftMessageHandlers) commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req commitGiftMessageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.gifts.Commit(ctx, services.CommitGiftMessageCommand{
		SessionID:       sessionIDParam(r),
		Message:         req.Message,
		RecipientEmail:  strings.TrimSpace(req.RecipientEmail),
		CartHasGiftCard: req.CartHasGiftCard,
	})
	if err != nil {
		h.writeGiftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *GiftMessageHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	confirmed := strings.EqualFold(r.URL.Query().Get("confirmed"), "true")

	view, err := h.gifts.Remove(ctx, services.RemoveGiftMessageCommand{
		SessionID: sessionIDParam(r),
		Confirmed: confirmed,
	})
	if err != nil {
		h.writeGiftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *GiftMessageHandlers) writeGiftError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrGiftMessageInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_gift_message", "the gift message must be between 1 and 250 characters", http.StatusUnprocessableEntity).WithField("giftMessage"))
	case errors.Is(err, services.ErrGiftMessageRecipientRequired):
		httpx.WriteError(ctx, w, httpx.NewError("recipient_required", "a valid recipient email is required for gift card orders", http.StatusUnprocessableEntity).WithField("recipientEmail"))
	case errors.Is(err, services.ErrGiftMessageNotConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_required", "confirm removal of the gift message", http.StatusConflict))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "the session changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gift_message_unavailable", "gift messages are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("gift_message_error", "failed to process the request", http.StatusInternalServerError))
	}
}
