package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftsync/store"
)

func newSettingsRouter(t *testing.T, validate CraftValidator) (*store.Store, *mux.Router) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewStore(client)
	router := mux.NewRouter()
	NewSettingsHandler(st, validate).RegisterRoutes(router)
	return st, router
}

func acceptAll(ctx context.Context, apiURL, token string) error { return nil }

func TestSaveSettingsValidatesCredentials(t *testing.T) {
	_, router := newSettingsRouter(t, func(ctx context.Context, apiURL, token string) error {
		return fmt.Errorf("craft API returned status 401")
	})

	rec := postJSON(t, router, "/api/settings", map[string]string{
		"user_id":         "user-1",
		"craft_api_url":   "https://connect.craft.do/api/v1",
		"craft_api_token": "bad-token",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveAndGetSettings(t *testing.T) {
	st, router := newSettingsRouter(t, acceptAll)

	rec := postJSON(t, router, "/api/settings", map[string]string{
		"user_id":         "user-1",
		"craft_api_url":   "  https://connect.craft.do/api/v1  ",
		"craft_api_token": " token-123 ",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := st.GetSettings(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "https://connect.craft.do/api/v1", settings.CraftAPIURL)
	assert.Equal(t, "token-123", settings.CraftAPIToken)
	assert.True(t, settings.Configured())

	req := httptest.NewRequest("GET", "/api/settings?user_id=user-1", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &body))
	assert.Equal(t, true, body["configured"])
	assert.Equal(t, true, body["has_token"])
	// The token itself never leaves the server.
	assert.NotContains(t, getRec.Body.String(), "token-123")
}

func TestGetSettingsUnknownUser(t *testing.T) {
	_, router := newSettingsRouter(t, acceptAll)

	req := httptest.NewRequest("GET", "/api/settings?user_id=ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["configured"])
}

func TestSaveSettingsMissingFields(t *testing.T) {
	_, router := newSettingsRouter(t, acceptAll)
	rec := postJSON(t, router, "/api/settings", map[string]string{"user_id": "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteOnboarding(t *testing.T) {
	st, router := newSettingsRouter(t, acceptAll)

	// Onboarding requires saved settings first.
	rec := postJSON(t, router, "/api/settings/complete-onboarding", map[string]string{"user_id": "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, st.SaveSettings(context.Background(), &store.Settings{
		UserID:        "user-1",
		CraftAPIURL:   "https://connect.craft.do/api/v1",
		CraftAPIToken: "token",
		UpdatedAt:     time.Now(),
	}))

	rec = postJSON(t, router, "/api/settings/complete-onboarding", map[string]string{"user_id": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := st.GetSettings(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, settings.OnboardingCompleted)
}

func TestSaveSettingsPreservesOnboardingFlag(t *testing.T) {
	st, router := newSettingsRouter(t, acceptAll)
	ctx := context.Background()

	require.NoError(t, st.SaveSettings(ctx, &store.Settings{
		UserID:              "user-1",
		CraftAPIURL:         "https://connect.craft.do/api/v1",
		CraftAPIToken:       "old",
		OnboardingCompleted: true,
	}))

	rec := postJSON(t, router, "/api/settings", map[string]string{
		"user_id":         "user-1",
		"craft_api_url":   "https://connect.craft.do/api/v1",
		"craft_api_token": "new",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := st.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, settings.OnboardingCompleted)
	assert.Equal(t, "new", settings.CraftAPIToken)
}
