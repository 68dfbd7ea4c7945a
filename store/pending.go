package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// Pending tokens bridge the OAuth callback and the calendar picker:
// the exchanged token waits here until the user chooses which
// calendars to sync, at which point it moves onto registration rows.

const pendingTokenTTL = time.Hour

func pendingTokenKey(userID string) string {
	return fmt.Sprintf("pending_token:%s", userID)
}

// SavePendingToken stores the freshly exchanged OAuth token for a user.
func (s *Store) SavePendingToken(ctx context.Context, userID string, token *oauth2.Token) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if token == nil {
		return fmt.Errorf("token is required")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := s.client.Set(ctx, pendingTokenKey(userID), data, pendingTokenTTL).Err(); err != nil {
		return fmt.Errorf("store pending token: %w", err)
	}
	return nil
}

// GetPendingToken returns the user's waiting OAuth token, if any.
func (s *Store) GetPendingToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, pendingTokenKey(userID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("pending token %s: %w", userID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get pending token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("unmarshal pending token: %w", err)
	}
	return &token, nil
}
