package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Mapping is the durable link between one provider event and the Craft
// task created for it. TaskID may be empty when the Craft API returned
// no id for the created block; the row still exists so the event is
// not treated as new on the next run.
type Mapping struct {
	UserID     string `json:"user_id"`
	CalendarID string `json:"calendar_id"`
	EventID    string `json:"event_id"`
	TaskID     string `json:"task_id,omitempty"`
	EventDate  string `json:"event_date"`
	Markdown   string `json:"markdown,omitempty"`
}

// SaveMapping inserts a mapping if no mapping for (user, event) exists
// yet. Returns false when another run already mapped the event, which
// callers treat as "already handled, skip".
func (s *Store) SaveMapping(ctx context.Context, m *Mapping) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("mapping is required")
	}
	if m.UserID == "" || m.EventID == "" {
		return false, fmt.Errorf("user_id and event_id are required")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}

	created, err := s.client.SetNX(ctx, mappingKey(m.UserID, m.EventID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("store mapping: %w", err)
	}
	if created {
		if err := s.client.SAdd(ctx, mappingIndexKey(m.UserID), m.EventID).Err(); err != nil {
			return true, fmt.Errorf("index mapping: %w", err)
		}
	}
	return created, nil
}

// UpdateMapping overwrites an existing mapping after its task's
// content was pushed to Craft. Unlike SaveMapping it does not guard
// against concurrent inserts; the row is known to exist.
func (s *Store) UpdateMapping(ctx context.Context, m *Mapping) error {
	if m == nil || m.UserID == "" || m.EventID == "" {
		return fmt.Errorf("user_id and event_id are required")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, mappingKey(m.UserID, m.EventID), data, 0)
	pipe.SAdd(ctx, mappingIndexKey(m.UserID), m.EventID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	return nil
}

// GetMapping loads the mapping for one provider event.
func (s *Store) GetMapping(ctx context.Context, userID, eventID string) (*Mapping, error) {
	data, err := s.client.Get(ctx, mappingKey(userID, eventID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("mapping %s/%s: %w", userID, eventID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}

	var m Mapping
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal mapping: %w", err)
	}
	return &m, nil
}

// ListMappings returns all of a user's mappings, optionally scoped to
// one calendar (webhook-triggered runs load user-wide, connect runs
// scope to the calendar being enabled).
func (s *Store) ListMappings(ctx context.Context, userID, calendarID string) ([]*Mapping, error) {
	ids, err := s.client.SMembers(ctx, mappingIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}

	mappings := make([]*Mapping, 0, len(ids))
	for _, eventID := range ids {
		m, err := s.GetMapping(ctx, userID, eventID)
		if err != nil {
			continue
		}
		if calendarID != "" && m.CalendarID != calendarID {
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// DeleteMapping removes a mapping row and its index entry.
func (s *Store) DeleteMapping(ctx context.Context, userID, eventID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, mappingKey(userID, eventID))
	pipe.SRem(ctx, mappingIndexKey(userID), eventID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}
