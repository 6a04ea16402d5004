package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pos/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// rateErrorStatus maps rate service errors onto HTTP statuses.
func rateErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRate), errors.Is(err, services.ErrInvalidPair):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrConstraintViolation):
		return http.StatusUnprocessableEntity, "rate rejected by ledger constraint"
	default:
		return http.StatusServiceUnavailable, "rate storage unavailable"
	}
}
