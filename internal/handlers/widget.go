package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clairmont-cellars/api/internal/platform/auth"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
	"github.com/clairmont-cellars/api/internal/widget"
)

// WidgetHandlers receives collect-point events posted back by the embedded
// locator widget and feeds them onto the session's event bus.
type WidgetHandlers struct {
	authn *auth.Authenticator
	bus   *widget.Bus
}

// NewWidgetHandlers constructs widget callback handlers.
func NewWidgetHandlers(authn *auth.Authenticator, bus *widget.Bus) *WidgetHandlers {
	return &WidgetHandlers{authn: authn, bus: bus}
}

// Routes registers the widget callback endpoint under the provided router.
func (h *WidgetHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireShopper())
	}
	group.Post("/session/{sessionID}/widget-events", h.publishEvent)
}

type widgetEventRequest struct {
	Type    string                 `json:"type"`
	EventID string                 `json:"eventId"`
	Address widget.ProviderAddress `json:"address"`
}

func (h *WidgetHandlers) publishEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req widgetEventRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event type is required", http.StatusBadRequest))
		return
	}

	err := h.bus.Publish(sessionIDParam(r), widget.Event{
		Type:    strings.TrimSpace(req.Type),
		ID:      strings.TrimSpace(req.EventID),
		Address: req.Address,
	})
	if err != nil {
		if errors.Is(err, widget.ErrNoSubscriber) {
			// The shopper is not in hold-at-location mode; the event has no
			// consumer and is dropped.
			httpx.WriteError(ctx, w, httpx.NewError("no_subscriber", "no active collect-point selection for this session", http.StatusConflict))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("widget_error", "failed to process the widget event", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
