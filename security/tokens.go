package security

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"craftsync/store"
)

// ErrReconnectRequired is returned when the stored refresh token is
// missing or revoked. It must surface to the user as "reconnect your
// Google account", never be swallowed.
var ErrReconnectRequired = errors.New("authentication expired, reconnect required")

// refreshWindow is how close to expiry a token gets before every call
// path refreshes it proactively.
const refreshWindow = 5 * time.Minute

// CalendarScopes are the Google Calendar scopes the bridge needs.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

// TokenManager owns the OAuth config and the token lifecycle for
// calendar registrations. Tokens live on the registration row; every
// provider call goes through RefreshIfNeeded so retry-on-auth-failure
// is uniform across call sites.
type TokenManager struct {
	store  *store.Store
	config *oauth2.Config
}

// NewTokenManager creates a token manager over the given store.
func NewTokenManager(s *store.Store) *TokenManager {
	return &TokenManager{store: s}
}

// ConfigureOAuth sets the Google OAuth client credentials.
func (tm *TokenManager) ConfigureOAuth(clientID, clientSecret, redirectURL string) {
	tm.config = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       CalendarScopes,
		Endpoint:     google.Endpoint,
	}
	log.Printf("Configured Google OAuth with client ID: %s", clientID)
}

// Configured reports whether OAuth client credentials are set.
func (tm *TokenManager) Configured() bool {
	return tm.config != nil
}

// RefreshIfNeeded returns a token valid for at least the refresh
// window, refreshing through the OAuth endpoint and persisting the
// result when the stored one is expired or about to expire. The
// refresh token is only overwritten when the endpoint issued a new
// one. Replaces the implicit "tokens" event hook with an explicit
// call-then-write-back.
func (tm *TokenManager) RefreshIfNeeded(ctx context.Context, reg *store.Registration) (*oauth2.Token, error) {
	if reg == nil {
		return nil, fmt.Errorf("registration is required")
	}
	if reg.AccessToken == "" && reg.RefreshToken == "" {
		return nil, fmt.Errorf("no tokens stored for calendar %s: %w", reg.CalendarID, ErrReconnectRequired)
	}

	current := &oauth2.Token{
		AccessToken:  reg.AccessToken,
		RefreshToken: reg.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       reg.TokenExpiry,
	}

	// An unset expiry is treated as expired: the token's age is
	// unknown, refreshing is the only safe option.
	if !reg.TokenExpiry.IsZero() && time.Until(reg.TokenExpiry) > refreshWindow {
		return current, nil
	}

	if tm.config == nil {
		return nil, fmt.Errorf("OAuth not configured")
	}
	if reg.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for calendar %s: %w", reg.CalendarID, ErrReconnectRequired)
	}

	// Force the cached token to be considered expired so the
	// TokenSource actually refreshes.
	current.Expiry = time.Now().Add(-time.Minute)

	fresh, err := tm.config.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh failed for calendar %s: %v: %w", reg.CalendarID, err, ErrReconnectRequired)
	}

	newRefresh := ""
	if fresh.RefreshToken != "" && fresh.RefreshToken != reg.RefreshToken {
		newRefresh = fresh.RefreshToken
	}
	if err := tm.store.UpdateTokens(ctx, reg.UserID, reg.CalendarID, fresh.AccessToken, newRefresh, fresh.Expiry); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	reg.AccessToken = fresh.AccessToken
	if newRefresh != "" {
		reg.RefreshToken = newRefresh
	}
	reg.TokenExpiry = fresh.Expiry

	log.Printf("Refreshed OAuth token user=%s calendar=%s expiry=%s", reg.UserID, reg.CalendarID, fresh.Expiry.Format(time.RFC3339))
	return fresh, nil
}

// SweepResult aggregates one proactive refresh sweep.
type SweepResult struct {
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// RefreshExpiring refreshes tokens on every enabled registration whose
// expiry is unset or falls inside the window. Each registration is
// refreshed independently; a single failure never aborts the sweep.
func (tm *TokenManager) RefreshExpiring(ctx context.Context, window time.Duration) (*SweepResult, error) {
	regs, err := tm.store.ScanEnabledRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch registrations for refresh: %w", err)
	}

	result := &SweepResult{Errors: []string{}}
	deadline := time.Now().Add(window)

	for _, reg := range regs {
		if reg.RefreshToken == "" {
			continue
		}
		if !reg.TokenExpiry.IsZero() && reg.TokenExpiry.After(deadline) {
			continue
		}
		result.Total++

		// Force the refresh path regardless of the per-call window.
		reg.TokenExpiry = time.Time{}
		if _, err := tm.RefreshIfNeeded(ctx, reg); err != nil {
			log.Printf("Token sweep: refresh failed user=%s calendar=%s: %v", reg.UserID, reg.CalendarID, err)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", reg.CalendarID, err))
			continue
		}
		result.Refreshed++
	}

	return result, nil
}
