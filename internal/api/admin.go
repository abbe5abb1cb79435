package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/catalog"
)

const (
	defaultAddCredits     int64 = 100
	defaultResetQuota     int64 = 999
	defaultInitialCredits int64 = 1000
	adRewardCredits       int64 = 1
	maxJobsLimit                = 100
)

func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	models := make([]*catalog.ModelDescriptor, 0, h.Catalog.Len())
	for _, m := range h.Catalog.Models() {
		if typ == "" || m.Type == typ {
			models = append(models, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(models), "models": models})
}

func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, apperr.Validation("invalid limit"))
			return
		}
		limit = min(n, maxJobsLimit)
	}

	list, err := h.Jobs.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, apperr.Internal("failed to list jobs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": userID, "jobs": list})
}

type creditsRequest struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Credits  *int64 `json:"credits"`
	NewQuota *int64 `json:"newQuota"`
	Initial  *int64 `json:"initialCredits"`
}

func (h *Handler) decodeCredits(w http.ResponseWriter, r *http.Request) (*creditsRequest, bool) {
	var req creditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, r, apperr.Validation("Missing userId"))
		return nil, false
	}
	return &req, true
}

func valueOr(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}

// adminRef tags ledger entries with the key that made the change.
func adminRef(r *http.Request, action string) string {
	return fmt.Sprintf("admin:%s:%s", auth.GetAPIKeyID(r.Context()), action)
}

func (h *Handler) HandleAddCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredits(w, r)
	if !ok {
		return
	}
	credits := valueOr(req.Credits, defaultAddCredits)

	balance, err := h.Ledger.Credit(r.Context(), req.UserID, credits, adminRef(r, "add"))
	if err != nil {
		h.writeError(w, r, ledgerError(err))
		return
	}
	h.Metrics.CreditsTotal.WithLabelValues("credit").Add(float64(credits))
	h.logger.Info("admin credits added", zap.String("user_id", req.UserID), zap.Int64("credits", credits))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("%d credits added successfully", credits),
		"creditsAdded": credits,
		"balance":      balance,
	})
}

func (h *Handler) HandleResetCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredits(w, r)
	if !ok {
		return
	}
	quota := valueOr(req.NewQuota, defaultResetQuota)

	balance, err := h.Ledger.SetBalance(r.Context(), req.UserID, quota, adminRef(r, "reset"))
	if err != nil {
		h.writeError(w, r, ledgerError(err))
		return
	}
	h.logger.Info("admin quota reset", zap.String("user_id", req.UserID), zap.Int64("quota", quota))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Quota reset to %d for user %s", quota, req.UserID),
		"balance": balance,
	})
}

func (h *Handler) HandleEnsureUser(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredits(w, r)
	if !ok {
		return
	}
	initial := valueOr(req.Initial, defaultInitialCredits)

	user, created, err := h.Ledger.EnsureUser(r.Context(), req.UserID, req.Email, initial)
	if err != nil {
		h.writeError(w, r, ledgerError(err))
		return
	}

	status, message := http.StatusOK, "User updated"
	if created {
		status, message = http.StatusCreated, "User created"
	}
	writeJSON(w, status, map[string]any{
		"success": true,
		"message": message,
		"userId":  user.ID,
		"credits": user.Credits,
		"tier":    user.Tier,
	})
}

func (h *Handler) HandleAwardAdCredit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredits(w, r)
	if !ok {
		return
	}
	balance, err := h.Ledger.Credit(r.Context(), req.UserID, adRewardCredits, "ad reward")
	if err != nil {
		h.writeError(w, r, ledgerError(err))
		return
	}
	h.Metrics.CreditsTotal.WithLabelValues("credit").Add(float64(adRewardCredits))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Credit awarded", "balance": balance})
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	user, err := h.Ledger.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, ledgerError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"userId":         user.ID,
		"credits":        user.Credits,
		"tier":           user.Tier,
		"creditsResetAt": user.CreditsResetAt,
	})
}

func (h *Handler) HandleResetWeeklyQuotas(w http.ResponseWriter, r *http.Request) {
	n, err := h.Maintenance.ResetWeeklyQuotas(r.Context(), h.now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Reset %d Standard users", n),
		"count":   n,
	})
}

func (h *Handler) HandleCleanupOldJobs(w http.ResponseWriter, r *http.Request) {
	n, err := h.Maintenance.CleanupOldJobs(r.Context(), h.now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Cleaned up %d jobs", n),
		"count":   n,
	})
}
