package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"craftsync/security"
	"craftsync/store"
	"craftsync/sync"
)

// SyncHandler exposes the reconciliation triggers: the internal
// webhook-driven endpoint and the manual sync-everything action.
type SyncHandler struct {
	store  *store.Store
	engine *sync.Engine
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(s *store.Store, engine *sync.Engine) *SyncHandler {
	return &SyncHandler{store: s, engine: engine}
}

// RegisterRoutes registers the sync trigger routes.
func (h *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sync", h.handleSyncByChannel).Methods("POST")
	r.HandleFunc("/api/sync/all", h.handleSyncAll).Methods("POST")
}

type syncRequest struct {
	ChannelID string `json:"channelId"`
}

type syncResponse struct {
	Success         bool `json:"success"`
	EventsProcessed int  `json:"eventsProcessed"`
	EventsDeleted   int  `json:"eventsDeleted"`
	EventsUpdated   int  `json:"eventsUpdated"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// handleSyncByChannel runs the webhook-variant reconciliation for the
// calendar behind a push channel id.
func (h *SyncHandler) handleSyncByChannel(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "Missing channelId", "")
		return
	}
	h.runForChannel(w, r, req.ChannelID)
}

// runForChannel is shared between /api/sync and the inbound webhook
// relay endpoint.
func (h *SyncHandler) runForChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	ctx := r.Context()

	reg, err := h.store.GetRegistrationByChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calendar not found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Calendar lookup failed", err.Error())
		return
	}
	if !reg.Enabled {
		writeError(w, http.StatusConflict, "Calendar sync is disabled", "")
		return
	}

	result, err := h.engine.Run(ctx, reg, sync.Options{
		Window:          sync.WebhookWindow(time.Now()),
		ScopeToCalendar: true,
		UpdateExisting:  true,
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Success:         true,
		EventsProcessed: result.Processed,
		EventsDeleted:   result.Deleted,
		EventsUpdated:   result.Updated,
	})
}

type syncAllRequest struct {
	UserID string `json:"user_id"`
}

type syncAllResponse struct {
	Synced    int `json:"synced"`
	Calendars int `json:"calendars"`
}

// handleSyncAll is the manual dashboard action: reconcile every
// enabled calendar the user has.
func (h *SyncHandler) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req syncAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}

	settings, err := h.store.GetSettings(ctx, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}
	if !settings.Configured() {
		writeError(w, http.StatusBadRequest, "Craft API not configured. Please complete onboarding.", "")
		return
	}

	batch, err := h.engine.RunAll(ctx, req.UserID, sync.Options{
		Window:          sync.WebhookWindow(time.Now()),
		ScopeToCalendar: true,
		UpdateExisting:  true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sync failed", err.Error())
		return
	}

	log.Printf("Manual sync user=%s calendars=%d synced=%d", req.UserID, batch.Calendars, batch.Synced)
	writeJSON(w, http.StatusOK, syncAllResponse{Synced: batch.Synced, Calendars: batch.Calendars})
}

// writeRunError maps engine errors onto the response taxonomy: auth
// failures tell the user to reconnect, configuration failures point at
// onboarding, the rest are 500s.
func (h *SyncHandler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, security.ErrReconnectRequired):
		writeError(w, http.StatusUnauthorized, "Authentication expired, reconnect required", err.Error())
	case errors.Is(err, sync.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, "Craft API not configured. Please complete onboarding.", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Sync failed", err.Error())
	}
}
