package store

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store persists all service state in Redis. Entities are JSON values
// under namespaced keys, with index sets per user and a reverse lookup
// for push channels.
type Store struct {
	client *redis.Client
}

// NewStore creates a store backed by the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying Redis client for pub/sub consumers.
func (s *Store) Client() *redis.Client {
	return s.client
}

func registrationKey(userID, calendarID string) string {
	return fmt.Sprintf("calendar:%s:%s", userID, calendarID)
}

func registrationIndexKey(userID string) string {
	return fmt.Sprintf("calendars:%s", userID)
}

func channelKey(channelID string) string {
	return fmt.Sprintf("channel:%s", channelID)
}

func mappingKey(userID, eventID string) string {
	return fmt.Sprintf("mapping:%s:%s", userID, eventID)
}

func mappingIndexKey(userID string) string {
	return fmt.Sprintf("mappings:%s", userID)
}

func syncLogKey(userID string) string {
	return fmt.Sprintf("synclog:%s", userID)
}

// SyncLogFeedChannel is the pub/sub channel carrying new sync-log
// entries for a user, consumed by the activity WebSocket feed.
func SyncLogFeedChannel(userID string) string {
	return fmt.Sprintf("synclog_feed:%s", userID)
}

func settingsKey(userID string) string {
	return fmt.Sprintf("settings:%s", userID)
}
