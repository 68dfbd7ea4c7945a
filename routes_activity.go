package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"craftsync/store"
)

// ActivityHandler serves the sync activity log, both as a snapshot and
// as a live WebSocket feed bridged off the Redis synclog channel.
type ActivityHandler struct {
	store *store.Store
}

// NewActivityHandler creates an activity handler.
func NewActivityHandler(s *store.Store) *ActivityHandler {
	return &ActivityHandler{store: s}
}

// RegisterRoutes registers activity routes.
func (h *ActivityHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/activity", h.handleList).Methods("GET")
	r.HandleFunc("/api/activity/ws", h.handleWebSocket).Methods("GET")
}

// handleList returns recent sync log entries, newest first.
func (h *ActivityHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required", "")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200", "")
			return
		}
		limit = parsed
	}

	entries, err := h.store.ListSyncLogs(ctx, userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load activity", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

var activityUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Client is trusted (output-only surface).
		return true
	},
}

// handleWebSocket pushes sync log entries to the client as they are
// published. Subscriptions end when either side hangs up.
func (h *ActivityHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := activityUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sub := h.store.Client().Subscribe(ctx, store.SyncLogFeedChannel(userID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var entry store.SyncLogEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				log.Printf("Warning: malformed activity payload for %s: %v", userID, err)
				continue
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
