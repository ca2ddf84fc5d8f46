package masterplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"masterplan/internal/calendar"
	"masterplan/internal/domain"
)

// Client is a minimal Masterplan HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Event is the calendar event wire model.
type Event = domain.CalendarEvent

// SyncResult is the delta fetch response.
type SyncResult = domain.SyncResult

// Health reports server and database status.
type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// PlanRequest schedules rows on the server.
type PlanRequest struct {
	Rows  []map[string]any `json:"rows"`
	Epoch *time.Time       `json:"epoch,omitempty"`
	Save  bool             `json:"save,omitempty"`
	Keep  bool             `json:"keep,omitempty"`
}

// PlanResponse is the outcome of a server-side planning run.
type PlanResponse struct {
	Report struct {
		Total    int `json:"total"`
		Accepted int `json:"accepted"`
		Skipped  int `json:"skipped"`
	} `json:"report"`
	Events      []Event               `json:"events"`
	Corrections []calendar.Correction `json:"corrections,omitempty"`
	LineCursor  int                   `json:"line_cursor"`
	Saved       bool                  `json:"saved"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SyncEvents asks for the collection if it changed after since. A zero since
// fetches unconditionally.
func (c *Client) SyncEvents(ctx context.Context, since time.Time) (SyncResult, error) {
	endpoint := "events/sync"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var resp SyncResult
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Sync satisfies the coordinator's source interface.
func (c *Client) Sync(ctx context.Context, since time.Time) (domain.SyncResult, error) {
	return c.SyncEvents(ctx, since)
}

// GetEvents returns the stored collection.
func (c *Client) GetEvents(ctx context.Context) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "events", nil, &resp)
	return resp.Events, err
}

// SaveEvents overwrites the stored collection and returns it as stored.
func (c *Client) SaveEvents(ctx context.Context, events []Event) ([]Event, error) {
	if events == nil {
		events = []Event{}
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodPost, "events", map[string]any{"events": events}, &resp)
	return resp.Events, err
}

// UpdateEvent upserts one event by id.
func (c *Client) UpdateEvent(ctx context.Context, ev Event) (Event, error) {
	var resp Event
	endpoint := fmt.Sprintf("events/%s", url.PathEscape(ev.ID))
	err := c.do(ctx, http.MethodPut, endpoint, ev, &resp)
	return resp, err
}

// DeleteEvent removes one event by id.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("events/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Health returns the server health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// Plan runs the planner on the server.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (PlanResponse, error) {
	if req.Rows == nil {
		req.Rows = []map[string]any{}
	}
	var resp PlanResponse
	err := c.do(ctx, http.MethodPost, "plan", req, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
