package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/notify"
)

// NotificationHandler exposes the dispatcher to internal HTTP callers.
type NotificationHandler struct {
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(d *notify.Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: d, logger: logger}
}

// Dispatch handles POST /api/v1/notifications
func (h *NotificationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var in domain.DispatchInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.dispatcher.CreateAndSend(r.Context(), in)
	if err != nil {
		h.logger.Warn("dispatch failed",
			zap.String("correlation_id", GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"notifications": created,
		"count":         len(created),
	})
}

// Get handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// ListForUser handles GET /api/v1/users/{id}/notifications
func (h *NotificationHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	rows, total, err := h.dispatcher.ListForUser(r.Context(), chi.URLParam(r, "id"), page, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"total": total,
	})
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/users/{id}/notifications/read
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.MarkAllRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
