package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tallyd/tallyd/internal/log"
)

const readinessTimeout = 2 * time.Second

// health is a liveness probe: 200 whenever the process serves requests.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports 200 only when storage answers a ping.
func readiness(pinger Pinger, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger == nil {
			writeError(w, http.StatusServiceUnavailable, "not_ready", "storage not configured", logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("readiness ping failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "storage unreachable", logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
