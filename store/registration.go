package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registration is one synced calendar for one user: the enabled flag,
// the active push channel (if any), and the OAuth tokens that keep
// provider access alive for unattended webhook-driven syncs.
type Registration struct {
	UserID            string    `json:"user_id"`
	CalendarID        string    `json:"calendar_id"`
	Summary           string    `json:"summary,omitempty"`
	Enabled           bool      `json:"enabled"`
	ChannelID         string    `json:"channel_id,omitempty"`
	ResourceID        string    `json:"resource_id,omitempty"`
	ChannelExpiration time.Time `json:"channel_expiration,omitempty"`
	AccessToken       string    `json:"access_token,omitempty"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	TokenExpiry       time.Time `json:"token_expiry,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SaveRegistration upserts a registration row. The (user, calendar)
// key guarantees the uniqueness invariant; the write is last-write-wins.
func (s *Store) SaveRegistration(ctx context.Context, reg *Registration) error {
	if reg == nil {
		return fmt.Errorf("registration is required")
	}
	if reg.UserID == "" || reg.CalendarID == "" {
		return fmt.Errorf("user_id and calendar_id are required")
	}

	reg.UpdatedAt = time.Now()
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	key := registrationKey(reg.UserID, reg.CalendarID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, registrationIndexKey(reg.UserID), reg.CalendarID)
	if reg.ChannelID != "" {
		pipe.Set(ctx, channelKey(reg.ChannelID), reg.UserID+"|"+reg.CalendarID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store registration: %w", err)
	}
	return nil
}

// GetRegistration loads one calendar registration.
func (s *Store) GetRegistration(ctx context.Context, userID, calendarID string) (*Registration, error) {
	data, err := s.client.Get(ctx, registrationKey(userID, calendarID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("registration %s/%s: %w", userID, calendarID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}

	var reg Registration
	if err := json.Unmarshal([]byte(data), &reg); err != nil {
		return nil, fmt.Errorf("unmarshal registration: %w", err)
	}
	return &reg, nil
}

// GetRegistrationByChannel resolves a push-channel id back to its
// registration, used by the webhook sync trigger.
func (s *Store) GetRegistrationByChannel(ctx context.Context, channelID string) (*Registration, error) {
	ref, err := s.client.Get(ctx, channelKey(channelID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("lookup channel: %w", err)
	}

	parts := strings.SplitN(ref, "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed channel reference %q", ref)
	}
	return s.GetRegistration(ctx, parts[0], parts[1])
}

// ListRegistrations returns all of a user's registrations.
func (s *Store) ListRegistrations(ctx context.Context, userID string) ([]*Registration, error) {
	ids, err := s.client.SMembers(ctx, registrationIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}

	regs := make([]*Registration, 0, len(ids))
	for _, calendarID := range ids {
		reg, err := s.GetRegistration(ctx, userID, calendarID)
		if err != nil {
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// ListEnabledRegistrations returns the user's registrations with sync
// turned on.
func (s *Store) ListEnabledRegistrations(ctx context.Context, userID string) ([]*Registration, error) {
	regs, err := s.ListRegistrations(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled := regs[:0]
	for _, reg := range regs {
		if reg.Enabled {
			enabled = append(enabled, reg)
		}
	}
	return enabled, nil
}

// ScanEnabledRegistrations walks every enabled registration across all
// users, for the token refresh and channel renewal sweeps.
func (s *Store) ScanEnabledRegistrations(ctx context.Context) ([]*Registration, error) {
	iter := s.client.Scan(ctx, 0, "calendar:*", 100).Iterator()
	var regs []*Registration
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var reg Registration
		if err := json.Unmarshal([]byte(data), &reg); err != nil {
			continue
		}
		if reg.Enabled {
			regs = append(regs, &reg)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan registrations: %w", err)
	}
	return regs, nil
}

// UpdateTokens writes refreshed OAuth material onto a registration.
// The refresh token is only replaced when a new one was issued.
func (s *Store) UpdateTokens(ctx context.Context, userID, calendarID, accessToken, refreshToken string, expiry time.Time) error {
	reg, err := s.GetRegistration(ctx, userID, calendarID)
	if err != nil {
		return err
	}
	reg.AccessToken = accessToken
	if refreshToken != "" {
		reg.RefreshToken = refreshToken
	}
	reg.TokenExpiry = expiry
	return s.SaveRegistration(ctx, reg)
}

// DisableRegistration flips a registration off and clears its channel
// fields. The row is kept (soft disable) so a later re-enable keeps
// the calendar's history.
func (s *Store) DisableRegistration(ctx context.Context, userID, calendarID string) error {
	reg, err := s.GetRegistration(ctx, userID, calendarID)
	if err != nil {
		return err
	}

	oldChannel := reg.ChannelID
	reg.Enabled = false
	reg.ChannelID = ""
	reg.ResourceID = ""
	reg.ChannelExpiration = time.Time{}

	if err := s.SaveRegistration(ctx, reg); err != nil {
		return err
	}
	if oldChannel != "" {
		if err := s.client.Del(ctx, channelKey(oldChannel)).Err(); err != nil {
			return fmt.Errorf("clear channel lookup: %w", err)
		}
	}
	return nil
}

// ClearChannel removes a channel reverse lookup, used when a channel
// is replaced during renewal.
func (s *Store) ClearChannel(ctx context.Context, channelID string) error {
	return s.client.Del(ctx, channelKey(channelID)).Err()
}
