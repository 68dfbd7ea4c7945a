package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

const syncLogMaxEntries = 200

// SyncLogDetails carries run counts for a successful run or the error
// string for a failed one.
type SyncLogDetails struct {
	EventsProcessed int    `json:"events_processed"`
	EventsDeleted   int    `json:"events_deleted"`
	EventsUpdated   int    `json:"events_updated,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SyncLogEntry is one append-only audit record: exactly one per
// reconciliation attempt, success or failure.
type SyncLogEntry struct {
	UserID     string         `json:"user_id"`
	CalendarID string         `json:"calendar_id,omitempty"`
	Status     string         `json:"status"`
	Details    SyncLogDetails `json:"details"`
	At         time.Time      `json:"at"`
}

// AppendSyncLog records a reconciliation attempt and publishes it for
// live activity subscribers. Feed publish failures are logged only;
// the audit write is what matters.
func (s *Store) AppendSyncLog(ctx context.Context, entry *SyncLogEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sync log entry: %w", err)
	}

	key := syncLogKey(entry.UserID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, syncLogMaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}

	if err := s.client.Publish(ctx, SyncLogFeedChannel(entry.UserID), data).Err(); err != nil {
		log.Printf("Warning: failed to publish sync log entry for %s: %v", entry.UserID, err)
	}
	return nil
}

// ListSyncLogs returns the user's most recent entries, newest first.
func (s *Store) ListSyncLogs(ctx context.Context, userID string, limit int) ([]*SyncLogEntry, error) {
	if limit <= 0 || limit > syncLogMaxEntries {
		limit = syncLogMaxEntries
	}

	raw, err := s.client.LRange(ctx, syncLogKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}

	entries := make([]*SyncLogEntry, 0, len(raw))
	for _, data := range raw {
		var entry SyncLogEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
