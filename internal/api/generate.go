package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/broker"
	"github.com/vnmchuo/gen-broker/pkg/ratelimit"
)

// generateRequest accepts both request shapes: modelId + parameters, or the
// older style-based fields.
type generateRequest struct {
	UserID     string         `json:"userId"`
	ModelID    string         `json:"modelId"`
	Parameters map[string]any `json:"parameters"`

	Style        string   `json:"style"`
	ImageURL     string   `json:"imageUrl"`
	ImageURLs    []string `json:"imageUrls"`
	CustomPrompt string   `json:"customPrompt"`
	Mode         string   `json:"mode"`
}

func (g *generateRequest) route() (broker.Route, error) {
	switch {
	case strings.TrimSpace(g.ModelID) != "":
		if g.Parameters == nil {
			return nil, apperr.Validation("Missing or invalid parameters")
		}
		return broker.Dynamic{ModelID: g.ModelID, Parameters: g.Parameters}, nil
	case strings.TrimSpace(g.Style) != "" || g.Mode == "generate":
		return broker.Legacy{
			Style:        g.Style,
			ImageURL:     g.ImageURL,
			ImageURLs:    g.ImageURLs,
			CustomPrompt: g.CustomPrompt,
			Mode:         g.Mode,
		}, nil
	default:
		return nil, apperr.Validation("Missing either style (legacy) or modelId (dynamic)")
	}
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, r, apperr.Validation("Missing userId"))
		return
	}
	route, err := req.route()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.Limiter != nil {
		allowed, err := h.Limiter.Allow(ctx, req.UserID)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", zap.String("user_id", req.UserID), zap.Error(err))
		}
		if err != nil || !allowed {
			retryAfter := strconv.Itoa(int(ratelimit.Window.Seconds()))
			w.Header().Set("Retry-After", retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":     false,
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
	}

	receipt, err := h.Broker.Submit(ctx, broker.Request{
		UserID:      req.UserID,
		Route:       route,
		CallbackURL: h.callbackURL(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"taskId":           receipt.JobID,
		"message":          fmt.Sprintf("%s generation started!", receipt.Model.Name),
		"modelName":        receipt.Model.Name,
		"modelType":        receipt.Model.Type,
		"creditsUsed":      receipt.CreditsCharged,
		"creditsRemaining": receipt.Balance,
		"estimatedTime":    receipt.Model.EstimatedTime(),
	})
}

// callbackURL is the address handed to the provider for completion notices.
func (h *Handler) callbackURL(r *http.Request) string {
	base := strings.TrimRight(h.PublicBaseURL, "/")
	if base == "" {
		base = "https://" + r.Host
	}
	u := base + "/api/kie-callback"
	if h.CallbackToken != "" {
		u += "?token=" + url.QueryEscape(h.CallbackToken)
	}
	return u
}
