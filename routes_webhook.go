package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// WebhookHandler receives Google Calendar push notifications. Google
// identifies the channel through headers; the body is irrelevant.
type WebhookHandler struct {
	syncHandler *SyncHandler
}

// NewWebhookHandler creates the inbound webhook handler.
func NewWebhookHandler(syncHandler *SyncHandler) *WebhookHandler {
	return &WebhookHandler{syncHandler: syncHandler}
}

// RegisterRoutes registers the notification endpoint.
func (h *WebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/calendar/webhook/notification", h.handleNotification).Methods("POST")
}

// handleNotification acknowledges Google's channel-validation "sync"
// message and turns every other resource state into a reconciliation
// run for the channel's calendar.
func (h *WebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	log.Printf("Calendar webhook: channel=%s resource=%s state=%s", channelID, resourceID, resourceState)

	if channelID == "" {
		http.Error(w, "Missing channel ID", http.StatusBadRequest)
		return
	}

	if resourceState == "sync" {
		// Channel validation handshake; acknowledge and do nothing.
		w.WriteHeader(http.StatusOK)
		return
	}

	h.syncHandler.runForChannel(w, r, channelID)
}
