package admin

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/express"
)

// ExpressHandler accepts fire-and-forget messages for the in-process
// fast path. A full bucket surfaces as 503 so the caller can fall back
// to the durable queues.
type ExpressHandler struct {
	queue  *express.Queue
	logger *zap.Logger
}

func NewExpressHandler(q *express.Queue, logger *zap.Logger) *ExpressHandler {
	return &ExpressHandler{queue: q, logger: logger}
}

// Enqueue handles POST /api/v1/express
func (h *ExpressHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var msg domain.DeliveryMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.To == "" || msg.Body == "" {
		respondError(w, http.StatusUnprocessableEntity, "to and body must not be empty")
		return
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityHigh
	}
	if !msg.Priority.IsValid() {
		mapError(w, domain.ErrInvalidPriority)
		return
	}

	if err := h.queue.Enqueue(msg); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Depths handles GET /api/v1/express/depths
func (h *ExpressHandler) Depths(w http.ResponseWriter, _ *http.Request) {
	high, medium, low := h.queue.Depths()
	respondJSON(w, http.StatusOK, map[string]int{
		"high":   high,
		"medium": medium,
		"low":    low,
	})
}
