package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
	"github.com/clairmont-cellars/api/internal/services"
)

// guestMinter issues signed guest session tokens for unauthenticated shoppers.
type guestMinter interface {
	Mint(shopperID, email string) (string, error)
}

// SessionHandlers exposes the checkout session aggregate over HTTP.
type SessionHandlers struct {
	authn    *auth.Authenticator
	sessions services.SessionService
	guests   guestMinter
	guestID  func() string
}

// SessionHandlerOption customises session handler construction.
type SessionHandlerOption func(*SessionHandlers)

// WithGuestIssuer lets session bootstrap mint a guest identity when the
// request arrives without credentials.
func WithGuestIssuer(minter guestMinter) SessionHandlerOption {
	return func(h *SessionHandlers) {
		h.guests = minter
	}
}

// NewSessionHandlers constructs session handlers guarded by shopper authentication.
func NewSessionHandlers(authn *auth.Authenticator, sessions services.SessionService, opts ...SessionHandlerOption) *SessionHandlers {
	h := &SessionHandlers{
		authn:    authn,
		sessions: sessions,
		guestID:  func() string { return "guest-" + ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the session endpoints under the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	start := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
		start = r.With(h.authn.OptionalShopper())
	}
	start.Post("/session", h.startSession)
	group.Get("/session/{sessionID}", h.getSession)
	group.Put("/session/{sessionID}/account", h.updateAccount)
	group.Put("/session/{sessionID}/credit-card", h.selectCreditCard)
	group.Put("/session/{sessionID}/adding-credit-card", h.setAddingCreditCard)
	group.Put("/session/{sessionID}/cvv", h.setCVV)
	group.Post("/session/{sessionID}/import", h.importCart)
	group.Post("/session/{sessionID}/reset", h.reset)
	group.Put("/session/{sessionID}/tasting-selection", h.setTastingSelection)
	group.Get("/session/{sessionID}/tasting-selection", h.tastingSelection)
}

type sessionViewResponse struct {
	Session domain.CheckoutSession `json:"session"`
	Tabs    domain.TabSet          `json:"tabs"`
}

func viewResponse(view services.SessionView) sessionViewResponse {
	return sessionViewResponse{Session: view.Session, Tabs: view.Tabs}
}

type startSessionRequest struct {
	CartID            string `json:"cartId"`
	ReplicatedSiteURL string `json:"replicatedSiteUrl"`
	PreviousSessionID string `json:"previousSessionId"`
}

type startSessionResponse struct {
	sessionViewResponse
	GuestToken string `json:"guestToken,omitempty"`
}

func (h *SessionHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var guestToken string
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		if h.guests == nil {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}
		shopperID := h.guestID()
		token, err := h.guests.Mint(shopperID, "")
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("session_error", "failed to issue a guest identity", http.StatusInternalServerError))
			return
		}
		guestToken = token
		identity = &auth.Identity{ShopperID: shopperID, Guest: true}
	}

	var req startSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.CartID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartId is required", http.StatusBadRequest))
		return
	}

	view, err := h.sessions.StartSession(ctx, services.StartSessionCommand{
		ShopperID:         identity.ShopperID,
		Email:             identity.Email,
		IsGuest:           identity.Guest,
		CartID:            strings.TrimSpace(req.CartID),
		ReplicatedSiteURL: strings.TrimSpace(req.ReplicatedSiteURL),
		PreviousSessionID: strings.TrimSpace(req.PreviousSessionID),
	})
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, startSessionResponse{
		sessionViewResponse: viewResponse(view),
		GuestToken:          guestToken,
	})
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.sessions.GetSession(ctx, sessionIDParam(r))
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type updateAccountRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
}

func (h *SessionHandlers) updateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateAccountRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.sessions.UpdateAccountDetails(ctx, services.UpdateAccountDetailsCommand{
		SessionID:   sessionIDParam(r),
		FullName:    strings.TrimSpace(req.FullName),
		Email:       strings.TrimSpace(req.Email),
		DateOfBirth: strings.TrimSpace(req.DateOfBirth),
	})
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type selectCreditCardRequest struct {
	Token string `json:"token"`
}

func (h *SessionHandlers) selectCreditCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectCreditCardRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.sessions.SelectCreditCard(ctx, services.SelectCreditCardCommand{
		SessionID: sessionIDParam(r),
		Token:     strings.TrimSpace(req.Token),
	})
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type toggleRequest struct {
	Adding bool `json:"adding"`
}

func (h *SessionHandlers) setAddingCreditCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req toggleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.sessions.SetAddingCreditCard(ctx, sessionIDParam(r), req.Adding)
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type setCVVRequest struct {
	CVV string `json:"cvv"`
}

// setCVV accepts the card verification code and hands it straight to the
// process-local vault. The code is never echoed back, logged, or persisted.
func (h *SessionHandlers) setCVV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setCVVRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.sessions.SetCVV(ctx, services.SetCVVCommand{
		SessionID: sessionIDParam(r),
		CVV:       strings.TrimSpace(req.CVV),
	})
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type importCartRequest struct {
	CartID            string `json:"cartId"`
	ReplicatedSiteURL string `json:"replicatedSiteUrl"`
}

func (h *SessionHandlers) importCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req importCartRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.CartID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartId is required", http.StatusBadRequest))
		return
	}

	view, err := h.sessions.ImportCart(ctx, services.ImportCartCommand{
		SessionID:         sessionIDParam(r),
		CartID:            strings.TrimSpace(req.CartID),
		ReplicatedSiteURL: strings.TrimSpace(req.ReplicatedSiteURL),
	})
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

func (h *SessionHandlers) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.sessions.Reset(ctx, sessionIDParam(r))
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, viewResponse(view))
}

type tastingSelectionRequest struct {
	Selection string `json:"selection"`
}

func (h *SessionHandlers) setTastingSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req tastingSelectionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	if err := h.sessions.SetTastingSelection(ctx, sessionIDParam(r), req.Selection); err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SessionHandlers) tastingSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	selection, err := h.sessions.TastingSelection(ctx, sessionIDParam(r))
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"selection": selection})
}

func (h *SessionHandlers) writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommerceError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionUnderage):
		httpx.WriteError(ctx, w, httpx.NewError("underage", "you must be at least 21 years old to order", http.StatusUnprocessableEntity).WithField("dateOfBirth"))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "the session changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("session_error", "failed to process the request", http.StatusInternalServerError))
	}
}
