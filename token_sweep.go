package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"craftsync/security"
)

// TokenSweeper proactively refreshes Google access tokens that are
// close to expiry, so webhook-triggered syncs do not pay the refresh
// round trip on the hot path.
type TokenSweeper struct {
	tokens   *security.TokenManager
	interval time.Duration
	window   time.Duration
	enabled  bool
}

func NewTokenSweeper(tokens *security.TokenManager, interval, window time.Duration, enabled bool) *TokenSweeper {
	return &TokenSweeper{
		tokens:   tokens,
		interval: interval,
		window:   window,
		enabled:  enabled,
	}
}

func (s *TokenSweeper) Start(ctx context.Context) {
	if !s.enabled {
		log.Println("Token refresh sweep disabled")
		return
	}
	if s.tokens == nil {
		log.Println("Token refresh sweep disabled: missing token manager")
		return
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Minute
	}
	if s.window <= 0 {
		s.window = time.Hour
	}
	go s.loop(ctx)
}

func (s *TokenSweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *TokenSweeper) sweep(ctx context.Context) {
	result, err := s.tokens.RefreshExpiring(ctx, s.window)
	if err != nil {
		log.Printf("Token refresh sweep error: %v", err)
		return
	}
	if result.Refreshed > 0 || result.Failed > 0 {
		log.Printf("Token refresh sweep: refreshed=%d failed=%d", result.Refreshed, result.Failed)
	}
	for _, msg := range result.Errors {
		log.Printf("Warning: token refresh failed: %s", msg)
	}
}

// TokenSweepHandler exposes the sweep on demand for operators.
type TokenSweepHandler struct {
	tokens *security.TokenManager
	window time.Duration
}

// NewTokenSweepHandler creates a token sweep handler.
func NewTokenSweepHandler(tokens *security.TokenManager, window time.Duration) *TokenSweepHandler {
	if window <= 0 {
		window = time.Hour
	}
	return &TokenSweepHandler{tokens: tokens, window: window}
}

// RegisterRoutes registers the manual sweep route. Only POST runs the
// sweep; GET describes the endpoint without side effects.
func (h *TokenSweepHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/refresh-tokens", h.handleSweep).Methods("POST")
	r.HandleFunc("/api/refresh-tokens", h.handleInfo).Methods("GET")
}

func (h *TokenSweepHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint":    "/api/refresh-tokens",
		"method":      "POST",
		"window":      h.window.String(),
		"description": "Refreshes Google tokens on enabled calendars expiring within the window",
	})
}

func (h *TokenSweepHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.tokens.RefreshExpiring(r.Context(), h.window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Token refresh sweep failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     result.Total,
		"refreshed": result.Refreshed,
		"failed":    result.Failed,
		"errors":    result.Errors,
	})
}
