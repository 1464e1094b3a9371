package wavelinesdk

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
)

// Client is a minimal Waveline HTTP API client. BearerToken carries the
// caller's JWT; the token subject is the actor the server attributes
// every write to.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Epic is the API epic model.
type Epic struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Waves      int    `json:"waves"`
	ActiveWave string `json:"active_wave,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Item is the API work-item model.
type Item struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Phase     string `json:"phase"`
	Assignee  string `json:"assignee,omitempty"`
	Epic      int    `json:"epic,omitempty"`
	Wave      string `json:"wave,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// Conflict is an advisory scope overlap between two items.
type Conflict struct {
	Item      int      `json:"item"`
	Other     int      `json:"other"`
	Resources []string `json:"resources"`
}

// Snapshot is the checkpoint's work inventory.
type Snapshot struct {
	Completed  []string `json:"completed,omitempty"`
	InProgress []string `json:"in_progress,omitempty"`
	Pending    []string `json:"pending,omitempty"`
}

// Checkpoint is the structured resumable-state record.
type Checkpoint struct {
	WorkLog          string   `json:"work_log"`
	Snapshot         Snapshot `json:"snapshot"`
	ChangedResources []string `json:"changed_resources"`
	Commits          []string `json:"commits,omitempty"`
	Branch           string   `json:"branch"`
	NextAction       string   `json:"next_action"`
	Outcome          string   `json:"outcome,omitempty"`
	Final            bool     `json:"final,omitempty"`
}

// Violation is a live rule breach on an item.
type Violation struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Level   string `json:"level"`
}

// Event is one audit-log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Epic       string `json:"epic,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses, exposing the server's error code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateEpic creates an epic with an ordered wave plan.
func (c *Client) CreateEpic(ctx context.Context, title, body string, waves int) (Epic, error) {
	var resp Epic
	err := c.do(ctx, http.MethodPost, "v0/epics", map[string]any{
		"title": title,
		"body":  body,
		"waves": waves,
	}, &resp)
	return resp, err
}

// GetEpic fetches an epic and its active wave.
func (c *Client) GetEpic(ctx context.Context, number int) (Epic, error) {
	var resp Epic
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/epics/%d", number), nil, &resp)
	return resp, err
}

// WaveStatus summarizes one wave of an epic's plan.
type WaveStatus struct {
	Wave     string `json:"wave"`
	Total    int    `json:"total"`
	Done     int    `json:"done"`
	Eligible bool   `json:"eligible"`
	Active   bool   `json:"active,omitempty"`
}

// EpicWaves returns per-wave progress for an epic.
func (c *Client) EpicWaves(ctx context.Context, number int) ([]WaveStatus, error) {
	var resp []WaveStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/epics/%d/waves", number), nil, &resp)
	return resp, err
}

// CreateItem creates a ready work item inside an epic's wave.
func (c *Client) CreateItem(ctx context.Context, epic int, wave, title, body string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/epics/%d/items", epic), map[string]any{
		"wave":  wave,
		"title": title,
		"body":  body,
	}, &resp)
	return resp, err
}

// ListItems lists an epic's items, optionally filtered by wave.
func (c *Client) ListItems(ctx context.Context, epic int, wave string) ([]Item, error) {
	endpoint := fmt.Sprintf("v0/epics/%d/items", epic)
	if wave != "" {
		endpoint += "?wave=" + url.QueryEscape(wave)
	}
	var resp []Item
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Claim claims a ready item for the token's actor.
func (c *Client) Claim(ctx context.Context, number int) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/claim", number), nil, &resp)
	return resp, err
}

// Transition requests a phase transition with an explicit from state.
func (c *Client) Transition(ctx context.Context, number int, from, to string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/transitions", number), map[string]any{
		"from": from,
		"to":   to,
	}, &resp)
	return resp, err
}

// DeclareScope posts the item's write-once resource claim and returns
// any overlaps with sibling declarations.
func (c *Client) DeclareScope(ctx context.Context, number int, claimed, excluded []string) ([]Conflict, error) {
	var resp []Conflict
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/scope", number), map[string]any{
		"claimed":  claimed,
		"excluded": excluded,
	}, &resp)
	return resp, err
}

// ResolveConflict records an agreement on both sides of an overlap.
func (c *Client) ResolveConflict(ctx context.Context, number, other int, agreement string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/scope/resolutions", number), map[string]any{
		"other":     other,
		"agreement": agreement,
	}, nil)
}

// PostCheckpoint posts a resumable checkpoint to the item's open thread.
func (c *Client) PostCheckpoint(ctx context.Context, number int, cp Checkpoint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/checkpoints", number), cp, nil)
}

// LatestCheckpoint returns the item's newest checkpoint.
func (c *Client) LatestCheckpoint(ctx context.Context, number int) (Checkpoint, error) {
	var resp Checkpoint
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/items/%d/checkpoints/latest", number), nil, &resp)
	return resp, err
}

// PostVerdict posts a PASS or FAIL review verdict.
func (c *Client) PostVerdict(ctx context.Context, number int, result, note string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%d/verdicts", number), map[string]any{
		"result": result,
		"note":   note,
	}, &resp)
	return resp, err
}

// ListViolations lists the item's live violations.
func (c *Client) ListViolations(ctx context.Context, number int) ([]Violation, error) {
	var resp []Violation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/items/%d/violations", number), nil, &resp)
	return resp, err
}

// Events returns recent audit-log entries, optionally filtered by type.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if evtType != "" {
		params.Set("type", evtType)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
