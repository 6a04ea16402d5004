package handlers

import (
	"context"
	"net/http"
	"time"

	"pos/internal/logx"

	"go.uber.org/zap"
)

const readyTimeout = 2 * time.Second

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := h.pinger.PingContext(ctx); err != nil {
		logx.From(r.Context()).Warn("readiness check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
