// Package watch manages Google Calendar push channels: enabling a
// calendar (initial sync plus channel registration), disabling it, and
// renewing channels before they expire.
package watch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	calendar "google.golang.org/api/calendar/v3"

	"craftsync/security"
	"craftsync/store"
	"craftsync/sync"
)

// Registrar drives the channel lifecycle for calendar registrations.
type Registrar struct {
	store      *store.Store
	google     *security.GoogleClient
	engine     *sync.Engine
	webhookURL string
}

// NewRegistrar creates a registrar. webhookURL is the address Google
// pushes notifications to (the relay endpoint).
func NewRegistrar(s *store.Store, google *security.GoogleClient, engine *sync.Engine, webhookURL string) *Registrar {
	return &Registrar{store: s, google: google, engine: engine, webhookURL: webhookURL}
}

// EnableResult reports what enabling a calendar did.
type EnableResult struct {
	Synced     int       `json:"synced"`
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
}

// Enable turns sync on for a calendar: persist the registration, run
// the initial 7-day reconciliation so the user sees results
// immediately, then register the push channel for future changes. The
// enabled flag flips only once both steps succeed, so a failed enable
// never leaves a row that sweeps and dashboards treat as live.
func (r *Registrar) Enable(ctx context.Context, reg *store.Registration) (*EnableResult, error) {
	if err := r.store.SaveRegistration(ctx, reg); err != nil {
		return nil, err
	}

	result, err := r.engine.Run(ctx, reg, sync.Options{
		Window:          sync.ConnectWindow(time.Now()),
		ScopeToCalendar: true,
	})
	if err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}

	reg.Enabled = true
	if err := r.registerChannel(ctx, reg); err != nil {
		return nil, err
	}

	return &EnableResult{
		Synced:     result.Created,
		ChannelID:  reg.ChannelID,
		ResourceID: reg.ResourceID,
		Expiration: reg.ChannelExpiration,
	}, nil
}

// registerChannel starts a push channel and persists it on the
// registration, flag and channel fields in one write.
func (r *Registrar) registerChannel(ctx context.Context, reg *store.Registration) error {
	service, err := r.google.CalendarService(ctx, reg)
	if err != nil {
		return err
	}

	channel := &calendar.Channel{
		Id:      uuid.New().String(),
		Type:    "web_hook",
		Address: r.webhookURL,
	}

	resp, err := service.Events.Watch(reg.CalendarID, channel).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("register push channel for calendar %s: %w", reg.CalendarID, err)
	}

	reg.ChannelID = resp.Id
	reg.ResourceID = resp.ResourceId
	if resp.Expiration > 0 {
		reg.ChannelExpiration = time.UnixMilli(resp.Expiration)
	}
	if err := r.store.SaveRegistration(ctx, reg); err != nil {
		return fmt.Errorf("persist push channel: %w", err)
	}

	log.Printf("Registered push channel user=%s calendar=%s channel=%s resource=%s expires=%s",
		reg.UserID, reg.CalendarID, resp.Id, resp.ResourceId, reg.ChannelExpiration.Format(time.RFC3339))
	return nil
}

// Disable turns sync off. The provider-side stop is best effort; local
// state is cleared regardless so a failed remote call can never leave
// the calendar stuck enabled.
func (r *Registrar) Disable(ctx context.Context, userID, calendarID string) error {
	reg, err := r.store.GetRegistration(ctx, userID, calendarID)
	if err != nil {
		return err
	}

	if reg.ChannelID != "" && reg.ResourceID != "" {
		r.stopChannel(ctx, reg, reg.ChannelID, reg.ResourceID)
	}

	return r.store.DisableRegistration(ctx, userID, calendarID)
}

// stopChannel asks the provider to cancel a channel, logging failures
// instead of returning them.
func (r *Registrar) stopChannel(ctx context.Context, reg *store.Registration, channelID, resourceID string) {
	service, err := r.google.CalendarService(ctx, reg)
	if err != nil {
		log.Printf("Warning: cannot reach provider to stop channel %s: %v", channelID, err)
		return
	}

	channel := &calendar.Channel{Id: channelID, ResourceId: resourceID}
	if err := service.Channels.Stop(channel).Context(ctx).Do(); err != nil {
		log.Printf("Warning: failed to stop channel %s: %v", channelID, err)
		return
	}
	log.Printf("Stopped push channel user=%s calendar=%s channel=%s", reg.UserID, reg.CalendarID, channelID)
}

// RenewExpiring re-registers every enabled calendar whose channel
// expires within the threshold. One calendar's failure never blocks
// the rest. Returns the number of channels renewed.
func (r *Registrar) RenewExpiring(ctx context.Context, threshold time.Duration) (int, error) {
	regs, err := r.store.ScanEnabledRegistrations(ctx)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, reg := range regs {
		if reg.ChannelID == "" || reg.ChannelExpiration.IsZero() {
			continue
		}
		if time.Until(reg.ChannelExpiration) > threshold {
			continue
		}

		oldChannel := reg.ChannelID
		oldResource := reg.ResourceID

		log.Printf("Renewing push channel user=%s calendar=%s channel=%s expiring=%s",
			reg.UserID, reg.CalendarID, oldChannel, reg.ChannelExpiration.Format(time.RFC3339))

		if err := r.registerChannel(ctx, reg); err != nil {
			log.Printf("Warning: channel renewal failed user=%s calendar=%s: %v", reg.UserID, reg.CalendarID, err)
			continue
		}

		// Best-effort teardown of the superseded channel.
		r.stopChannel(ctx, reg, oldChannel, oldResource)
		if err := r.store.ClearChannel(ctx, oldChannel); err != nil {
			log.Printf("Warning: failed to clear old channel lookup %s: %v", oldChannel, err)
		}
		renewed++
	}
	return renewed, nil
}
