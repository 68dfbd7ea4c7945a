package security

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"craftsync/store"
)

// GoogleClient builds authenticated Calendar services. It is the single
// constructor every provider call path uses, so token refresh happens
// uniformly before each call.
type GoogleClient struct {
	tokens *TokenManager
}

// NewGoogleClient creates a Google client over the token manager.
func NewGoogleClient(tokens *TokenManager) *GoogleClient {
	return &GoogleClient{tokens: tokens}
}

// CalendarService returns a Calendar service authenticated as the
// registration's user, refreshing the stored token first when needed.
func (g *GoogleClient) CalendarService(ctx context.Context, reg *store.Registration) (*calendar.Service, error) {
	token, err := g.tokens.RefreshIfNeeded(ctx, reg)
	if err != nil {
		return nil, err
	}

	service, err := calendar.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return service, nil
}

// CalendarServiceForToken builds a Calendar service from a bare access
// token, used during connect before a registration row exists.
func (g *GoogleClient) CalendarServiceForToken(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	service, err := calendar.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return service, nil
}
