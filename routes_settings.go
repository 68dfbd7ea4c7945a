package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"craftsync/craft"
	"craftsync/store"
)

// CraftValidator checks a Craft API URL and token actually work.
// Swapped out in tests.
type CraftValidator func(ctx context.Context, apiURL, token string) error

// DefaultCraftValidator probes the Craft tasks endpoint with the
// supplied credentials.
func DefaultCraftValidator(ctx context.Context, apiURL, token string) error {
	return craft.NewClient(token, apiURL).Validate(ctx)
}

// SettingsHandler serves per-user Craft connection settings.
type SettingsHandler struct {
	store    *store.Store
	validate CraftValidator
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(s *store.Store, validate CraftValidator) *SettingsHandler {
	if validate == nil {
		validate = DefaultCraftValidator
	}
	return &SettingsHandler{store: s, validate: validate}
}

// RegisterRoutes registers settings routes.
func (h *SettingsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/settings", h.handleGet).Methods("GET")
	r.HandleFunc("/api/settings", h.handleSave).Methods("POST")
	r.HandleFunc("/api/settings/complete-onboarding", h.handleCompleteOnboarding).Methods("POST")
}

// handleGet returns a user's settings with the token redacted.
func (h *SettingsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required", "")
		return
	}

	settings, err := h.store.GetSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user_id":              userID,
			"configured":           false,
			"onboarding_completed": false,
		})
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":              settings.UserID,
		"craft_api_url":        settings.CraftAPIURL,
		"has_token":            settings.CraftAPIToken != "",
		"configured":           settings.Configured(),
		"onboarding_completed": settings.OnboardingCompleted,
	})
}

type saveSettingsRequest struct {
	UserID        string `json:"user_id"`
	CraftAPIURL   string `json:"craft_api_url"`
	CraftAPIToken string `json:"craft_api_token"`
}

// handleSave validates the Craft credentials before persisting them,
// so a typo'd token is rejected at save time rather than at the next
// sync.
func (h *SettingsHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req saveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	req.CraftAPIURL = strings.TrimSpace(req.CraftAPIURL)
	req.CraftAPIToken = strings.TrimSpace(req.CraftAPIToken)
	if req.UserID == "" || req.CraftAPIURL == "" || req.CraftAPIToken == "" {
		writeError(w, http.StatusBadRequest, "user_id, craft_api_url and craft_api_token are required", "")
		return
	}

	if err := h.validate(ctx, req.CraftAPIURL, req.CraftAPIToken); err != nil {
		writeError(w, http.StatusBadRequest, "Craft API validation failed", err.Error())
		return
	}

	existing, err := h.store.GetSettings(ctx, req.UserID)
	onboarded := false
	if err == nil {
		onboarded = existing.OnboardingCompleted
	}

	settings := &store.Settings{
		UserID:              req.UserID,
		CraftAPIURL:         req.CraftAPIURL,
		CraftAPIToken:       req.CraftAPIToken,
		OnboardingCompleted: onboarded,
		UpdatedAt:           time.Now(),
	}
	if err := h.store.SaveSettings(ctx, settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type completeOnboardingRequest struct {
	UserID string `json:"user_id"`
}

// handleCompleteOnboarding marks onboarding done for a user.
func (h *SettingsHandler) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req completeOnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}

	settings, err := h.store.GetSettings(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "Save Craft settings before completing onboarding", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}

	settings.OnboardingCompleted = true
	settings.UpdatedAt = time.Now()
	if err := h.store.SaveSettings(ctx, settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
