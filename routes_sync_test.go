package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftsync/craft"
	"craftsync/store"
	"craftsync/sync"
)

type stubSource struct {
	events []sync.Event
	err    error
}

func (s *stubSource) FetchEvents(ctx context.Context, reg *store.Registration, window sync.Window) ([]sync.Event, error) {
	return s.events, s.err
}

type stubNotes struct {
	created int
	deleted int
	updated int
}

func (n *stubNotes) CreateTasks(ctx context.Context, tasks []craft.Task) (*craft.TasksResult, error) {
	result := &craft.TasksResult{}
	for range tasks {
		n.created++
		result.Items = append(result.Items, craft.Task{ID: "task"})
	}
	return result, nil
}

func (n *stubNotes) UpdateTasks(ctx context.Context, tasks []craft.Task) (*craft.TasksResult, error) {
	n.updated += len(tasks)
	return &craft.TasksResult{Items: tasks}, nil
}

func (n *stubNotes) DeleteTasks(ctx context.Context, ids []string) error {
	n.deleted += len(ids)
	return nil
}

type routesFixture struct {
	store  *store.Store
	source *stubSource
	notes  *stubNotes
	router *mux.Router
}

func newRoutesFixture(t *testing.T) *routesFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewStore(client)
	source := &stubSource{}
	notes := &stubNotes{}
	engine := sync.NewEngine(st, source, func(settings *store.Settings) sync.NotesClient {
		return notes
	})

	router := mux.NewRouter()
	syncHandler := NewSyncHandler(st, engine)
	syncHandler.RegisterRoutes(router)
	NewWebhookHandler(syncHandler).RegisterRoutes(router)

	return &routesFixture{store: st, source: source, notes: notes, router: router}
}

func (f *routesFixture) seedUser(t *testing.T, userID, calendarID, channelID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveSettings(ctx, &store.Settings{
		UserID:        userID,
		CraftAPIURL:   "https://connect.craft.do/api/v1",
		CraftAPIToken: "token",
	}))
	require.NoError(t, f.store.SaveRegistration(ctx, &store.Registration{
		UserID:      userID,
		CalendarID:  calendarID,
		Enabled:     true,
		ChannelID:   channelID,
		AccessToken: "access",
		TokenExpiry: time.Now().Add(time.Hour),
	}))
}

func postJSON(t *testing.T, router *mux.Router, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSyncByChannel(t *testing.T) {
	f := newRoutesFixture(t)
	f.seedUser(t, "user-1", "primary", "chan-1")
	f.source.events = []sync.Event{
		{ID: "evt-1", Title: "Standup", StartDateTime: "2026-09-01T09:00:00+02:00"},
	}

	rec := postJSON(t, f.router, "/api/sync", map[string]string{"channelId": "chan-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.EventsProcessed)
	assert.Equal(t, 1, f.notes.created)
}

func TestSyncByChannelUnknownChannel(t *testing.T) {
	f := newRoutesFixture(t)
	rec := postJSON(t, f.router, "/api/sync", map[string]string{"channelId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncByChannelMissingChannelID(t *testing.T) {
	f := newRoutesFixture(t)
	rec := postJSON(t, f.router, "/api/sync", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncByChannelDisabledCalendar(t *testing.T) {
	f := newRoutesFixture(t)
	f.seedUser(t, "user-1", "primary", "chan-1")

	ctx := context.Background()
	reg, err := f.store.GetRegistration(ctx, "user-1", "primary")
	require.NoError(t, err)
	reg.Enabled = false
	require.NoError(t, f.store.SaveRegistration(ctx, reg))

	rec := postJSON(t, f.router, "/api/sync", map[string]string{"channelId": "chan-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncByChannelNotConfigured(t *testing.T) {
	f := newRoutesFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveRegistration(ctx, &store.Registration{
		UserID:      "user-1",
		CalendarID:  "primary",
		Enabled:     true,
		ChannelID:   "chan-1",
		AccessToken: "access",
		TokenExpiry: time.Now().Add(time.Hour),
	}))

	rec := postJSON(t, f.router, "/api/sync", map[string]string{"channelId": "chan-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.notes.created)
}

func TestSyncAll(t *testing.T) {
	f := newRoutesFixture(t)
	f.seedUser(t, "user-1", "primary", "chan-1")
	f.source.events = []sync.Event{
		{ID: "evt-1", Title: "Standup", StartDateTime: "2026-09-01T09:00:00+02:00"},
		{ID: "evt-2", Title: "Lunch", StartDate: "2026-09-01"},
	}

	rec := postJSON(t, f.router, "/api/sync/all", map[string]string{"user_id": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncAllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Synced)
	assert.Equal(t, 1, resp.Calendars)
}

func TestSyncAllRequiresSettings(t *testing.T) {
	f := newRoutesFixture(t)
	rec := postJSON(t, f.router, "/api/sync/all", map[string]string{"user_id": "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSyncHandshake(t *testing.T) {
	f := newRoutesFixture(t)
	f.seedUser(t, "user-1", "primary", "chan-1")
	f.source.events = []sync.Event{
		{ID: "evt-1", Title: "Standup", StartDateTime: "2026-09-01T09:00:00+02:00"},
	}

	req := httptest.NewRequest("POST", "/calendar/webhook/notification", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "sync")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.notes.created)
}

func TestWebhookNotificationTriggersSync(t *testing.T) {
	f := newRoutesFixture(t)
	f.seedUser(t, "user-1", "primary", "chan-1")
	f.source.events = []sync.Event{
		{ID: "evt-1", Title: "Standup", StartDateTime: "2026-09-01T09:00:00+02:00"},
	}

	req := httptest.NewRequest("POST", "/calendar/webhook/notification", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "exists")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.notes.created)

	entries, err := f.store.ListSyncLogs(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0].Status)
}

func TestWebhookMissingChannelID(t *testing.T) {
	f := newRoutesFixture(t)
	req := httptest.NewRequest("POST", "/calendar/webhook/notification", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
