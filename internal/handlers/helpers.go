package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clairmont-cellars/api/internal/commerce"
	"github.com/clairmont-cellars/api/internal/platform/httpx"
)

const maxRequestBodySize = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

// APIKeyHeader authenticates collect-point widget callbacks.
const APIKeyHeader = "X-Api-Key"

// RequireAPIKey guards a route group with a shared key comparison.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_api_key", "a valid api key is required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "sessionID"))
}

// writeCommerceError surfaces backend rejections. Envelope errors carry a
// shopper-facing message the front end renders as a toast; transport and
// status failures stay generic.
func writeCommerceError(ctx context.Context, w http.ResponseWriter, err error) bool {
	var envErr *commerce.EnvelopeError
	if errors.As(err, &envErr) {
		httpx.WriteError(ctx, w, httpx.NewError(envErr.Code, envErr.Message, http.StatusUnprocessableEntity))
		return true
	}
	var statusErr *commerce.StatusError
	if errors.As(err, &statusErr) {
		httpx.WriteError(ctx, w, httpx.NewError("commerce_unavailable", "the store backend could not process the request", http.StatusBadGateway))
		return true
	}
	return false
}
