package api

import (
	"io"
	"net/http"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
)

const maxWebhookBytes = 65536

// HandleListPacks lists the credit packs a checkout can be opened for.
func (h *Handler) HandleListPacks(w http.ResponseWriter, r *http.Request) {
	packs := billing.Packs()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(packs), "packs": packs})
}

func (h *Handler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		PackID string `json:"packId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.Payments.CreateCheckout(r.Context(), req.UserID, req.PackID, r.Header.Get("Origin"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": c.SessionID, "url": c.URL})
}

// HandleStripeWebhook needs the raw body: the signature covers the exact
// bytes Stripe sent.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.writeError(w, r, apperr.Validation("Webhook Error: unreadable body"))
		return
	}

	res, err := h.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received":     true,
		"type":         res.EventType,
		"duplicate":    res.Duplicate,
		"creditsAdded": res.CreditsAdded,
	})
}
