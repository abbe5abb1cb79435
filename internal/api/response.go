package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as {"success":false,"error":...}. Messages of
// internal errors never leave the process; the cause is logged instead.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusCode(err)
	body := map[string]any{"success": false}

	e, ok := apperr.As(err)
	switch {
	case !ok:
		body["error"] = "Internal server error"
	case e.Kind == apperr.KindInsufficientCredits:
		body["error"] = e.Message
		body["message"] = fmt.Sprintf("This model requires %d credits. You have %d credits.", e.Required, e.Available)
		body["required"] = e.Required
		body["available"] = e.Available
	default:
		body["error"] = e.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// ledgerError classifies errors coming straight from billing.Ledger.
func ledgerError(err error) error {
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		return apperr.NotFound("User not found", err)
	case errors.Is(err, billing.ErrInvalidAmount):
		return apperr.Validation("Credits must be positive")
	case errors.Is(err, billing.ErrBalanceOverflow):
		return apperr.Validation("Credits would exceed the maximum balance")
	default:
		return apperr.Internal("ledger update failed", err)
	}
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "Method not allowed"})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Not found"})
}
