package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	calendar "google.golang.org/api/calendar/v3"

	"craftsync/security"
	"craftsync/store"
	"craftsync/watch"
)

// CalendarHandler serves the calendar picker and the enable/disable
// lifecycle around it.
type CalendarHandler struct {
	store     *store.Store
	google    *security.GoogleClient
	registrar *watch.Registrar
}

// NewCalendarHandler creates a calendar handler.
func NewCalendarHandler(s *store.Store, google *security.GoogleClient, registrar *watch.Registrar) *CalendarHandler {
	return &CalendarHandler{store: s, google: google, registrar: registrar}
}

// RegisterRoutes registers calendar routes.
func (h *CalendarHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/calendars", h.handleList).Methods("GET")
	r.HandleFunc("/api/calendars/status", h.handleStatus).Methods("GET")
	r.HandleFunc("/api/calendars/watch", h.handleWatch).Methods("POST")
	r.HandleFunc("/api/calendars/stop", h.handleStop).Methods("POST")
}

// calendarService builds a provider client for a user who may not yet
// have a registration: the pending token from the OAuth callback wins,
// otherwise any registration holding tokens serves.
func (h *CalendarHandler) calendarService(ctx context.Context, userID string) (*calendar.Service, error) {
	if token, err := h.store.GetPendingToken(ctx, userID); err == nil {
		return h.google.CalendarServiceForToken(ctx, token)
	}

	regs, err := h.store.ListRegistrations(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		if reg.AccessToken == "" && reg.RefreshToken == "" {
			continue
		}
		return h.google.CalendarService(ctx, reg)
	}
	return nil, security.ErrReconnectRequired
}

type calendarInfo struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary"`
}

// handleList returns the user's Google calendars for the picker.
func (h *CalendarHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required", "")
		return
	}

	service, err := h.calendarService(ctx, userID)
	if err != nil {
		if errors.Is(err, security.ErrReconnectRequired) {
			writeError(w, http.StatusUnauthorized, "Authentication expired, reconnect required", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reach Google Calendar", err.Error())
		return
	}

	resp, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to list calendars", err.Error())
		return
	}

	calendars := make([]calendarInfo, 0, len(resp.Items))
	for _, item := range resp.Items {
		calendars = append(calendars, calendarInfo{
			ID:      item.Id,
			Summary: item.Summary,
			Primary: item.Primary,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"calendars": calendars})
}

type registrationStatus struct {
	CalendarID        string    `json:"calendar_id"`
	Summary           string    `json:"summary,omitempty"`
	Enabled           bool      `json:"enabled"`
	ChannelID         string    `json:"channel_id,omitempty"`
	ChannelExpiration time.Time `json:"channel_expiration,omitempty"`
}

// handleStatus returns the user's registrations for the dashboard.
func (h *CalendarHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required", "")
		return
	}

	regs, err := h.store.ListRegistrations(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list registrations", err.Error())
		return
	}

	statuses := make([]registrationStatus, 0, len(regs))
	for _, reg := range regs {
		statuses = append(statuses, registrationStatus{
			CalendarID:        reg.CalendarID,
			Summary:           reg.Summary,
			Enabled:           reg.Enabled,
			ChannelID:         reg.ChannelID,
			ChannelExpiration: reg.ChannelExpiration,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "calendars": statuses})
}

type watchRequest struct {
	UserID     string `json:"user_id"`
	CalendarID string `json:"calendar_id"`
	Summary    string `json:"summary,omitempty"`
}

// handleWatch enables sync for a calendar: initial reconciliation
// first, then the push channel.
func (h *CalendarHandler) handleWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.UserID == "" || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "user_id and calendar_id are required", "")
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

	reg, err := h.store.GetRegistration(ctx, req.UserID, req.CalendarID)
	if errors.Is(err, store.ErrNotFound) {
		reg = &store.Registration{UserID: req.UserID, CalendarID: req.CalendarID}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration lookup failed", err.Error())
		return
	}
	if req.Summary != "" {
		reg.Summary = req.Summary
	}

	// Tokens from a fresh OAuth connect move onto the registration.
	if token, err := h.store.GetPendingToken(ctx, req.UserID); err == nil {
		reg.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			reg.RefreshToken = token.RefreshToken
		}
		reg.TokenExpiry = token.Expiry
	}
	if reg.AccessToken == "" && reg.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "No Google tokens for this calendar, connect Google first", "")
		return
	}

	result, err := h.registrar.Enable(ctx, reg)
	if err != nil {
		h.writeWatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"synced":  result.Synced,
	})
}

type stopRequest struct {
	UserID     string `json:"user_id"`
	CalendarID string `json:"calendar_id"`
}

// handleStop disables sync for a calendar.
func (h *CalendarHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.UserID == "" || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "user_id and calendar_id are required", "")
		return
	}

	if err := h.registrar.Disable(ctx, req.UserID, req.CalendarID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calendar not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to disable calendar", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *CalendarHandler) writeWatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, security.ErrReconnectRequired):
		writeError(w, http.StatusUnauthorized, "Authentication expired, reconnect required", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Failed to enable calendar", err.Error())
	}
}
