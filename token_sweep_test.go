package main

import (
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

	"craftsync/security"
	"craftsync/store"
)

func newTokenSweepFixture(t *testing.T) (*store.Store, *mux.Router) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewStore(client)
	tokens := security.NewTokenManager(st)
	router := mux.NewRouter()
	NewTokenSweepHandler(tokens, time.Hour).RegisterRoutes(router)
	return st, router
}

func seedExpiringRegistration(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.SaveRegistration(context.Background(), &store.Registration{
		UserID:       "user-1",
		CalendarID:   "primary",
		Enabled:      true,
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  time.Now().Add(-time.Minute),
	}))
}

func TestRefreshTokensGetIsInfoOnly(t *testing.T) {
	st, router := newTokenSweepFixture(t)
	seedExpiringRegistration(t, st)

	req := httptest.NewRequest("GET", "/api/refresh-tokens", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "POST", body["method"])
	// No sweep ran: the expiring registration was never touched.
	assert.NotContains(t, body, "refreshed")
	assert.NotContains(t, body, "failed")
}

func TestRefreshTokensPostRunsSweep(t *testing.T) {
	st, router := newTokenSweepFixture(t)
	seedExpiringRegistration(t, st)

	req := httptest.NewRequest("POST", "/api/refresh-tokens", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total     int `json:"total"`
		Refreshed int `json:"refreshed"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	// OAuth is not configured in this fixture, so the attempt fails,
	// which is enough to show POST actually sweeps.
	assert.Equal(t, 1, body.Failed)
	assert.Equal(t, 0, body.Refreshed)
}
