package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/reconciler"
)

type callbackData struct {
	TaskID        string          `json:"taskId"`
	State         string          `json:"state"`
	ResultJSON    json.RawMessage `json:"resultJson"`
	ResultPayload json.RawMessage `json:"resultPayload"`
	FailMsg       string          `json:"failMsg"`
}

// callbackBody is either {"data": {...}} or the fields at the root.
type callbackBody struct {
	callbackData
	Data *callbackData `json:"data"`
}

func (b *callbackBody) callback() reconciler.Callback {
	d := b.callbackData
	if b.Data != nil {
		d = *b.Data
	}
	payload := d.ResultJSON
	if len(payload) == 0 || string(payload) == "null" {
		payload = d.ResultPayload
	}
	return reconciler.Callback{TaskID: d.TaskID, State: d.State, Payload: payload, FailMsg: d.FailMsg}
}

// HandleCallback acknowledges every well-formed notice with 200, including
// ones for unknown or already finished jobs, so the provider stops retrying.
// Store failures answer 500 and the provider retries.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.CallbackToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.CallbackToken)) != 1 {
			h.logger.Warn("callback with bad token", zap.String("remote_addr", r.RemoteAddr))
			h.writeError(w, r, apperr.Unauthorized("Unauthorized"))
			return
		}
	}

	var body callbackBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	ack, err := h.Reconciler.OnCallback(r.Context(), body.callback())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Callback processed successfully"
	switch ack.Reason {
	case reconciler.ReasonUnknownJob:
		message = "Task not found but acknowledged"
	case reconciler.ReasonTerminal:
		message = "Task already finished"
	case reconciler.ReasonInProgress:
		message = "Task still processing"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"applied": ack.Applied,
		"message": message,
	})
}

// HandleCheckStatus reads taskId from the query on GET and from the body on
// POST.
func (h *Handler) HandleCheckStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if r.Method == http.MethodPost {
		var body struct {
			TaskID string `json:"taskId"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		taskID = body.TaskID
	}

	view, err := h.Reconciler.Refresh(r.Context(), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var message *string
	if view.Message != "" {
		message = &view.Message
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"taskId":    view.JobID,
		"status":    view.Status,
		"resultUrl": view.ResultURL,
		"imageUrl":  view.ResultURL,
		"videoUrl":  view.ResultURL,
		"audioUrl":  view.ResultURL,
		"message":   message,
	})
}
