package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"craftsync/security"
	"craftsync/store"
)

// AuthHandler serves the Google OAuth connect flow.
type AuthHandler struct {
	store  *store.Store
	tokens *security.TokenManager
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(s *store.Store, tokens *security.TokenManager) *AuthHandler {
	return &AuthHandler{store: s, tokens: tokens}
}

// RegisterRoutes registers OAuth routes.
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/google", h.handleConnect).Methods("POST")
	r.HandleFunc("/auth/google/callback", h.handleCallback).Methods("GET")
	r.HandleFunc("/auth/status", h.handleStatus).Methods("GET")
}

type connectRequest struct {
	UserID string `json:"user_id"`
}

// handleConnect issues the Google consent URL for a user.
func (h *AuthHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}

	authURL, state, err := h.tokens.AuthURL(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start OAuth flow", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth_url": authURL,
		"state":    state,
	})
}

// handleCallback is Google's redirect target. The exchanged token is
// parked until the user picks calendars to sync.
func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, "Google authorization was denied", errParam)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "Missing code or state parameter", "")
		return
	}

	userID, token, err := h.tokens.ExchangeCode(ctx, code, state)
	if err != nil {
		writeError(w, http.StatusBadRequest, "OAuth exchange failed", err.Error())
		return
	}

	if err := h.store.SavePendingToken(ctx, userID, token); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store tokens", err.Error())
		return
	}

	log.Printf("Google account connected for user %s", userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user_id": userID,
		"message": "Google Calendar connected. Pick calendars to sync.",
	})
}

// handleStatus reports whether a user has a Google connection.
func (h *AuthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required", "")
		return
	}

	connected := false
	if _, err := h.store.GetPendingToken(ctx, userID); err == nil {
		connected = true
	}

	regs, err := h.store.ListRegistrations(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list registrations", err.Error())
		return
	}
	enabled := 0
	for _, reg := range regs {
		if reg.AccessToken != "" || reg.RefreshToken != "" {
			connected = true
		}
		if reg.Enabled {
			enabled++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":           userID,
		"connected":         connected,
		"enabled_calendars": enabled,
	})
}
