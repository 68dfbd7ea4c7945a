package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"craftsync/craft"
	"craftsync/store"
)

// ErrNotConfigured means the user has no Craft URL/token; a run aborts
// early with a single error log entry and no partial mutation.
var ErrNotConfigured = errors.New("craft API not configured")

// NotesClient is the slice of the Craft client the engine drives.
type NotesClient interface {
	CreateTasks(ctx context.Context, tasks []craft.Task) (*craft.TasksResult, error)
	UpdateTasks(ctx context.Context, tasks []craft.Task) (*craft.TasksResult, error)
	DeleteTasks(ctx context.Context, ids []string) error
}

// NotesFactory builds a notes client from a user's settings.
type NotesFactory func(settings *store.Settings) NotesClient

// DefaultNotesFactory builds the real Craft client.
func DefaultNotesFactory(settings *store.Settings) NotesClient {
	return craft.NewClient(settings.CraftAPIToken, settings.CraftAPIURL)
}

// Options selects the run variant.
type Options struct {
	// Window bounds the fetch: ConnectWindow for a fresh enable,
	// WebhookWindow for push-triggered runs.
	Window Window
	// ScopeToCalendar restricts the mapping diff to this calendar's
	// rows. Every current caller scopes; the user-wide diff stays
	// reachable for a future merged view.
	ScopeToCalendar bool
	// UpdateExisting pushes title/time/location edits to already
	// mapped tasks instead of only creating and deleting.
	UpdateExisting bool
}

// Result counts one run's work.
type Result struct {
	Processed int `json:"eventsProcessed"`
	Created   int `json:"eventsCreated"`
	Updated   int `json:"eventsUpdated"`
	Deleted   int `json:"eventsDeleted"`
}

// BatchResult aggregates a multi-calendar run.
type BatchResult struct {
	Synced    int `json:"synced"`
	Calendars int `json:"calendars"`
}

// Engine makes the Craft task set for a calendar match the provider's
// event feed, exactly once per run, idempotently across repeated runs.
// The mapping table is the sole synchronization point between runs.
type Engine struct {
	store  *store.Store
	source EventSource
	notes  NotesFactory
}

// NewEngine creates a reconciliation engine.
func NewEngine(s *store.Store, source EventSource, notes NotesFactory) *Engine {
	if notes == nil {
		notes = DefaultNotesFactory
	}
	return &Engine{store: s, source: source, notes: notes}
}

// Run executes one reconciliation for one registration. Exactly one
// sync-log entry is written, win or lose. Per-item failures are logged
// and skipped; only configuration and fetch failures abort the run.
func (e *Engine) Run(ctx context.Context, reg *store.Registration, opts Options) (*Result, error) {
	result, err := e.reconcile(ctx, reg, opts)
	if err != nil {
		e.logRun(ctx, reg, nil, err)
		return nil, err
	}
	e.logRun(ctx, reg, result, nil)
	return result, nil
}

func (e *Engine) reconcile(ctx context.Context, reg *store.Registration, opts Options) (*Result, error) {
	settings, err := e.store.GetSettings(ctx, reg.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", reg.UserID, ErrNotConfigured)
	} else if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.Configured() {
		return nil, fmt.Errorf("user %s: %w", reg.UserID, ErrNotConfigured)
	}
	notes := e.notes(settings)

	events, err := e.source.FetchEvents(ctx, reg, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	scope := ""
	if opts.ScopeToCalendar {
		scope = reg.CalendarID
	}
	mappings, err := e.store.ListMappings(ctx, reg.UserID, scope)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	result := &Result{Processed: len(events)}

	currentIDs := make(map[string]struct{}, len(events))
	for _, event := range events {
		currentIDs[event.ID] = struct{}{}
	}
	mapped := make(map[string]*store.Mapping, len(mappings))
	for _, m := range mappings {
		mapped[m.EventID] = m
	}

	// Deletions first, so a recreated event reusing an external id
	// cannot collide with a stale mapping.
	for _, m := range mappings {
		if _, present := currentIDs[m.EventID]; present {
			continue
		}
		if m.TaskID != "" {
			if err := notes.DeleteTasks(ctx, []string{m.TaskID}); err != nil {
				log.Printf("Warning: failed to delete Craft task %s for event %s: %v", m.TaskID, m.EventID, err)
			}
		}
		// The mapping goes away even when the remote delete failed;
		// retrying a permanently broken task id forever helps nobody.
		if err := e.store.DeleteMapping(ctx, m.UserID, m.EventID); err != nil {
			log.Printf("Warning: failed to delete mapping for event %s: %v", m.EventID, err)
			continue
		}
		result.Deleted++
	}

	type pending struct {
		event Event
		line  TaskLine
	}
	groups := make(map[string][]pending)

	for _, event := range events {
		line, ok := FormatTask(event)
		if !ok {
			continue
		}

		if existing := mapped[event.ID]; existing != nil {
			if opts.UpdateExisting {
				e.updateExisting(ctx, notes, existing, line, result)
			}
			continue
		}
		groups[line.Date] = append(groups[line.Date], pending{event: event, line: line})
	}

	// One creation request per date group: the Craft API files a task
	// into a daily note only when the whole batch shares that date.
	dates := make([]string, 0, len(groups))
	for date := range groups {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		group := groups[date]
		tasks := make([]craft.Task, len(group))
		for i, p := range group {
			tasks[i] = craft.Task{
				Markdown: p.line.Markdown,
				TaskInfo: &craft.TaskInfo{State: craft.StateTodo, ScheduleDate: date},
				Location: &craft.Location{Type: "dailyNote", DailyNoteDate: date},
			}
		}

		created, err := notes.CreateTasks(ctx, tasks)
		if err != nil {
			// The group's events stay unmapped and are retried on the
			// next run; remaining groups still execute.
			log.Printf("Warning: failed to create %d tasks for %s: %v", len(group), date, err)
			continue
		}

		for i, p := range group {
			taskID := ""
			if created != nil && i < len(created.Items) {
				taskID = created.Items[i].ID
			}
			inserted, err := e.store.SaveMapping(ctx, &store.Mapping{
				UserID:     reg.UserID,
				CalendarID: reg.CalendarID,
				EventID:    p.event.ID,
				TaskID:     taskID,
				EventDate:  date,
				Markdown:   p.line.Markdown,
			})
			if err != nil {
				log.Printf("Warning: failed to save mapping for event %s: %v", p.event.ID, err)
				continue
			}
			if !inserted {
				// A concurrent run beat us to this event.
				log.Printf("Event %s already mapped by a concurrent run, skipping", p.event.ID)
				continue
			}
			result.Created++
		}
	}

	return result, nil
}

// updateExisting pushes a content edit to an already-mapped task. A
// run where nothing changed touches nothing, keeping repeated runs
// idempotent.
func (e *Engine) updateExisting(ctx context.Context, notes NotesClient, m *store.Mapping, line TaskLine, result *Result) {
	if m.TaskID == "" {
		return
	}
	if m.Markdown == line.Markdown && m.EventDate == line.Date {
		return
	}

	_, err := notes.UpdateTasks(ctx, []craft.Task{{
		ID:       m.TaskID,
		Markdown: line.Markdown,
		TaskInfo: &craft.TaskInfo{State: craft.StateTodo, ScheduleDate: line.Date},
	}})
	if err != nil {
		log.Printf("Warning: failed to update Craft task %s for event %s: %v", m.TaskID, m.EventID, err)
		return
	}

	m.Markdown = line.Markdown
	m.EventDate = line.Date
	if err := e.store.UpdateMapping(ctx, m); err != nil {
		log.Printf("Warning: failed to update mapping for event %s: %v", m.EventID, err)
		return
	}
	result.Updated++
}

// RunAll reconciles every enabled calendar a user has. A single
// calendar's failure is recorded and the batch continues.
func (e *Engine) RunAll(ctx context.Context, userID string, opts Options) (*BatchResult, error) {
	regs, err := e.store.ListEnabledRegistrations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	batch := &BatchResult{Calendars: len(regs)}
	for _, reg := range regs {
		result, err := e.Run(ctx, reg, opts)
		if err != nil {
			log.Printf("Sync failed for calendar %s: %v", reg.CalendarID, err)
			continue
		}
		batch.Synced += result.Created
	}
	return batch, nil
}

// logRun appends the single audit entry for a run.
func (e *Engine) logRun(ctx context.Context, reg *store.Registration, result *Result, runErr error) {
	entry := &store.SyncLogEntry{
		UserID:     reg.UserID,
		CalendarID: reg.CalendarID,
		At:         time.Now(),
	}
	if runErr != nil {
		entry.Status = "error"
		entry.Details = store.SyncLogDetails{Error: runErr.Error()}
	} else {
		entry.Status = "success"
		entry.Details = store.SyncLogDetails{
			EventsProcessed: result.Processed,
			EventsDeleted:   result.Deleted,
			EventsUpdated:   result.Updated,
		}
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		log.Printf("Warning: failed to append sync log for %s: %v", reg.UserID, err)
	}
}
