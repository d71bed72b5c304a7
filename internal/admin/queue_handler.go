package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
)

// QueueHandler serves the queue admin endpoints.
type QueueHandler struct {
	svc    *Service
	logger *zap.Logger
}

func NewQueueHandler(svc *Service, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// ListQueues handles GET /api/v1/queues
func (h *QueueHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.svc.ListQueues(r.Context())
	if err != nil {
		h.logger.Error("list queues failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": queues})
}

// ListJobs handles GET /api/v1/queues/{queue}/jobs
func (h *QueueHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	filter := parseJobsFilter(r)

	jobs, total, err := h.svc.ListJobs(r.Context(), queueName, filter)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  jobs,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// GetJob handles GET /api/v1/queues/{queue}/jobs/{id}
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// RetryJob handles POST /api/v1/queues/{queue}/jobs/{id}/retry
func (h *QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	id := chi.URLParam(r, "id")
	if err := h.svc.RetryJob(r.Context(), queueName, id); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued", "job_id": id})
}

// RemoveJob handles DELETE /api/v1/queues/{queue}/jobs/{id}
func (h *QueueHandler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveJob(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseQueue handles POST /api/v1/queues/{queue}/pause
func (h *QueueHandler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	if err := h.svc.PauseQueue(r.Context(), queueName); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused", "queue": queueName})
}

// ResumeQueue handles POST /api/v1/queues/{queue}/resume
func (h *QueueHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	if err := h.svc.ResumeQueue(r.Context(), queueName); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed", "queue": queueName})
}

type cleanRequest struct {
	GraceSeconds int `json:"grace_seconds"`
	Limit        int `json:"limit"`
}

// CleanQueue handles POST /api/v1/queues/{queue}/clean
func (h *QueueHandler) CleanQueue(w http.ResponseWriter, r *http.Request) {
	var req cleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 1000
	}

	removed, err := h.svc.CleanQueue(r.Context(),
		chi.URLParam(r, "queue"),
		time.Duration(req.GraceSeconds)*time.Second,
		req.Limit,
	)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func parseJobsFilter(r *http.Request) domain.ListJobsFilter {
	q := r.URL.Query()
	filter := domain.ListJobsFilter{State: "all", Page: 1, Limit: 20}

	if s := q.Get("state"); s != "" {
		filter.State = s
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	return filter
}
