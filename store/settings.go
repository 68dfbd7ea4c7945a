package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Settings holds a user's Craft API credentials and onboarding state.
type Settings struct {
	UserID              string    `json:"user_id"`
	CraftAPIURL         string    `json:"craft_api_url"`
	CraftAPIToken       string    `json:"craft_api_token"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Configured reports whether the user has both Craft URL and token set.
// Reconciliation must not run otherwise.
func (s *Settings) Configured() bool {
	return s != nil && strings.TrimSpace(s.CraftAPIURL) != "" && strings.TrimSpace(s.CraftAPIToken) != ""
}

// SaveSettings upserts the user's settings row.
func (s *Store) SaveSettings(ctx context.Context, settings *Settings) error {
	if settings == nil {
		return fmt.Errorf("settings is required")
	}
	if settings.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	settings.UpdatedAt = time.Now()
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, settingsKey(settings.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	return nil
}

// GetSettings loads the user's settings.
func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	data, err := s.client.Get(ctx, settingsKey(userID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("settings %s: %w", userID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &settings, nil
}
