// Package craft is a thin client for the Craft notes API tasks
// endpoint: create, update, and delete task blocks placed into daily
// notes.
package craft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TaskState values accepted by the Craft API.
const (
	StateTodo     = "todo"
	StateDone     = "done"
	StateCanceled = "canceled"
)

// TaskInfo carries the task state and its schedule date (YYYY-MM-DD).
type TaskInfo struct {
	State        string `json:"state,omitempty"`
	ScheduleDate string `json:"scheduleDate,omitempty"`
}

// Location places a task into a specific daily note.
type Location struct {
	Type          string `json:"type"`
	DailyNoteDate string `json:"dailyNoteDate,omitempty"`
}

// Task is one task block. ID is set on update requests and in
// responses.
type Task struct {
	ID       string    `json:"id,omitempty"`
	Markdown string    `json:"markdown"`
	TaskInfo *TaskInfo `json:"taskInfo,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// TasksResult is the API response for create/update calls. Items are
// index-aligned with the request batch.
type TasksResult struct {
	Items []Task `json:"items"`
}

// APIError is a non-2xx response from the Craft API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("craft API error %d: %s", e.StatusCode, e.Body)
}

// Client talks to one user's Craft space.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Craft client. Whitespace around the token is
// trimmed; stray whitespace produces "Invalid Authorization header"
// on the Craft side.
func NewClient(token, baseURL string) *Client {
	return &Client{
		token:      strings.TrimSpace(token),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("craft request %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read craft response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode craft response: %w", err)
		}
	}
	return nil
}

// CreateTasks creates a batch of tasks. The API files a task into a
// daily note only when every task in the request shares one
// dailyNoteDate, so callers must group by date before calling.
func (c *Client) CreateTasks(ctx context.Context, tasks []Task) (*TasksResult, error) {
	if len(tasks) == 0 {
		return &TasksResult{}, nil
	}

	date := ""
	for i, task := range tasks {
		if task.Location == nil {
			return nil, fmt.Errorf("task %d has no location", i)
		}
		if i == 0 {
			date = task.Location.DailyNoteDate
			continue
		}
		if task.Location.DailyNoteDate != date {
			return nil, fmt.Errorf("all tasks in one batch must share a dailyNoteDate, got %q and %q", date, task.Location.DailyNoteDate)
		}
	}

	var result TasksResult
	if err := c.request(ctx, http.MethodPost, "/tasks", map[string]interface{}{"tasks": tasks}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateTasks rewrites the markdown and task info of existing tasks.
func (c *Client) UpdateTasks(ctx context.Context, tasks []Task) (*TasksResult, error) {
	if len(tasks) == 0 {
		return &TasksResult{}, nil
	}
	for i, task := range tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
	}

	var result TasksResult
	if err := c.request(ctx, http.MethodPut, "/tasks", map[string]interface{}{"tasks": tasks}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteTasks removes tasks by block id.
func (c *Client) DeleteTasks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.request(ctx, http.MethodDelete, "/tasks", map[string]interface{}{"blockIds": ids}, nil)
}

// Validate checks that the token and base URL reach a Craft space,
// used before saving user settings.
func (c *Client) Validate(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/tasks?scope=active", nil, nil)
}
