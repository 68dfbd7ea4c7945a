package sync

import (
	"fmt"
	"strings"
	"time"
)

const untitledEvent = "Untitled Event"

// TaskLine is the formatted view of one event: the daily note it
// belongs to and the markdown line shown there.
type TaskLine struct {
	Date     string
	Markdown string
}

// FormatTask maps one event to its task line. Returns false for events
// without any start information; those are skipped entirely.
//
// The target date for a timed event is taken from the raw
// timezone-qualified string, not from a re-parse into host-local time.
// A local conversion shifts "2025-12-02T23:30:00+05:30" into the wrong
// daily note on any host west of the event's offset.
func FormatTask(event Event) (TaskLine, bool) {
	var date, label string

	switch {
	case event.StartDate != "":
		date = event.StartDate
		label = "All Day"
	case event.StartDateTime != "":
		clock, err := clockLabel(event.StartDateTime)
		if err != nil {
			return TaskLine{}, false
		}
		date = datePortion(event.StartDateTime)
		label = clock
	default:
		return TaskLine{}, false
	}

	title := event.Title
	if strings.TrimSpace(title) == "" {
		title = untitledEvent
	}

	markdown := fmt.Sprintf("%s • %s", label, title)
	if event.Location != "" {
		markdown += " @ " + event.Location
	}
	return TaskLine{Date: date, Markdown: markdown}, true
}

// datePortion cuts YYYY-MM-DD out of an RFC 3339 string.
func datePortion(dateTime string) string {
	if idx := strings.IndexByte(dateTime, 'T'); idx > 0 {
		return dateTime[:idx]
	}
	return dateTime
}

// clockLabel renders the event-local wall clock as a 12-hour time with
// zero-padded minutes. time.Parse keeps the string's own offset, so
// the label never drifts with the host timezone.
func clockLabel(dateTime string) (string, error) {
	t, err := time.Parse(time.RFC3339, dateTime)
	if err != nil {
		return "", err
	}
	return t.Format("3:04 PM"), nil
}
