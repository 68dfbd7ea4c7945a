// Package sync holds the reconciliation core: the calendar reader, the
// event-to-task formatter, and the engine that converges the Craft
// task set onto the provider's event feed.
package sync

import (
	"context"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"craftsync/security"
	"craftsync/store"
)

// Event is one single-instance calendar event, normalized from the
// provider feed. Exactly one of StartDate (all-day, YYYY-MM-DD) and
// StartDateTime (timezone-qualified RFC 3339) is set; when both are
// empty the event has no usable start and is skipped downstream.
type Event struct {
	ID            string
	Title         string
	Location      string
	StartDate     string
	StartDateTime string
}

// Window bounds one fetch. To and MaxResults are alternatives: the
// connect path uses a closed 7-day window, the webhook path an open
// window capped by count.
type Window struct {
	From       time.Time
	To         time.Time
	MaxResults int64
}

// ConnectWindow is the fetch window for a fresh calendar connect.
func ConnectWindow(now time.Time) Window {
	return Window{From: now, To: now.Add(7 * 24 * time.Hour)}
}

// WebhookWindow is the fetch window for a push-triggered refresh.
func WebhookWindow(now time.Time) Window {
	return Window{From: now, MaxResults: 50}
}

// EventSource fetches the ordered single-instance events for a
// registration within a window.
type EventSource interface {
	FetchEvents(ctx context.Context, reg *store.Registration, window Window) ([]Event, error)
}

// GoogleEventSource reads events through the Calendar API, refreshing
// the registration's token before each call.
type GoogleEventSource struct {
	google *security.GoogleClient
}

// NewGoogleEventSource creates the production event source.
func NewGoogleEventSource(google *security.GoogleClient) *GoogleEventSource {
	return &GoogleEventSource{google: google}
}

// FetchEvents lists the registration's events with recurring series
// pre-expanded by the provider, ordered by start time.
func (s *GoogleEventSource) FetchEvents(ctx context.Context, reg *store.Registration, window Window) ([]Event, error) {
	service, err := s.google.CalendarService(ctx, reg)
	if err != nil {
		return nil, err
	}

	call := service.Events.List(reg.CalendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(window.From.Format(time.RFC3339))
	if !window.To.IsZero() {
		call = call.TimeMax(window.To.Format(time.RFC3339))
	}
	if window.MaxResults > 0 {
		call = call.MaxResults(window.MaxResults)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events for calendar %s: %w", reg.CalendarID, err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == "" {
			continue
		}
		events = append(events, normalizeEvent(item))
	}
	return events, nil
}

func normalizeEvent(item *calendar.Event) Event {
	event := Event{
		ID:       item.Id,
		Title:    item.Summary,
		Location: item.Location,
	}
	if item.Start != nil {
		event.StartDate = item.Start.Date
		event.StartDateTime = item.Start.DateTime
	}
	return event
}
