package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/courtbook/relay/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrQueueNotFound),
		errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrRecipientNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrJobNotRetryable),
		errors.Is(err, domain.ErrJobActive):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr),
		errors.Is(err, domain.ErrInvalidStateFilter),
		errors.Is(err, domain.ErrInvalidRecipientType),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrNoRolesGiven),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidChannel):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
