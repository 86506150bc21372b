package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether the database answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleHealth reports liveness and database reachability.
//
// HTTP: GET /api/health → 200 {"status":"OK"} or 503 {"status":"DEGRADED"}
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "DEGRADED",
			Message: "Database is unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Message: "Server is running"})
}
