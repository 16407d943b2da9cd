package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PingFunc checks that the ledger backend is reachable.
type PingFunc func(ctx context.Context) error

// pingTimeout bounds a health-check round trip.
const pingTimeout = 2 * time.Second

// HealthHandler serves GET /health.
type HealthHandler struct {
	Ping        PingFunc // nil for backends with nothing to ping
	Environment string
	Store       string
	Log         *zap.Logger
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(ping PingFunc, environment, store string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{Ping: ping, Environment: environment, Store: store, Log: logger}
}

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Store       string `json:"store"`
	Error       string `json:"error,omitempty"`
}

type rootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Root handles GET /, a liveness check that never touches the store.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Status: "online", Service: "civicroute"})
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "environment":"production", "store":"postgres" }
//
// On store failure: 503 with status "error" and the ping error.
func (h *HealthHandler) Serve(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Environment: h.Environment,
		Store:       h.Store,
	}

	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			h.Log.Error("health-check: store ping failed", zap.String("store", h.Store), zap.Error(err))
			resp.Status = "error"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
