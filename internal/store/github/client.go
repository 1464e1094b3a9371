// Package github adapts the GitHub Issues REST API to the store.Client
// capability set, so epics and work items can live in a real repository
// tracker instead of the bundled sqlite one.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"waveline/internal/store"
)

const (
	DefaultAPIEndpoint = "https://api.github.com"
	DefaultTimeout     = 30 * time.Second

	maxResponseSize = 50 * 1024 * 1024
	perPage         = 100
)

// Client talks to one repository's issue tracker.
type Client struct {
	Token      string
	Owner      string
	Repo       string
	BaseURL    string
	HTTPClient *http.Client
}

var _ store.Client = (*Client)(nil)

// NewClient builds a Client for owner/repo authenticated by token.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		BaseURL:    DefaultAPIEndpoint,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithBaseURL returns a copy pointed at a different endpoint (tests,
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.BaseURL = strings.TrimRight(baseURL, "/")
	return &cp
}

func (c *Client) repoPath() string {
	return "/repos/" + c.Owner + "/" + c.Repo
}

func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github api error: %s (status %d)", e.Body, e.Status)
}

// doRequest performs one authenticated call, retrying rate limits with
// exponential backoff and honoring Retry-After when present.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var respBody []byte
	op := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return err
		}

		rateLimited := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0")
		if rateLimited {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					return backoff.RetryAfter(seconds)
				}
			}
			return fmt.Errorf("rate limited")
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(store.ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&apiError{Status: resp.StatusCode, Body: string(data)})
		}
		respBody = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghUser struct {
	Login string `json:"login"`
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []ghLabel `json:"labels"`
	Assignee  *ghUser   `json:"assignee"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	ClosedAt  *string   `json:"closed_at"`
	// Pull requests show up in the issues API too; skipped on list.
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type ghComment struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	User      ghUser `json:"user"`
	CreatedAt string `json:"created_at"`
}

// revision derives an optimistic-concurrency token from updated_at.
// GitHub offers no native revision counter; second-granularity is the
// best the API exposes, which is why every conditional write re-reads
// before it patches.
func revision(updatedAt string) int64 {
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func toIssue(g ghIssue) store.Issue {
	labels := make([]string, 0, len(g.Labels))
	for _, l := range g.Labels {
		labels = append(labels, l.Name)
	}
	assignee := ""
	if g.Assignee != nil {
		assignee = g.Assignee.Login
	}
	return store.Issue{
		Number:    g.Number,
		Title:     g.Title,
		Body:      g.Body,
		State:     g.State,
		Labels:    labels,
		Assignee:  assignee,
		Revision:  revision(g.UpdatedAt),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
		ClosedAt:  g.ClosedAt,
	}
}

func (c *Client) CreateIssue(ctx context.Context, issue store.Issue) (store.Issue, error) {
	req := map[string]any{
		"title":  issue.Title,
		"body":   issue.Body,
		"labels": issue.Labels,
	}
	if issue.Assignee != "" {
		req["assignees"] = []string{issue.Assignee}
	}
	data, err := c.doRequest(ctx, http.MethodPost, c.buildURL(c.repoPath()+"/issues", nil), req)
	if err != nil {
		return store.Issue{}, err
	}
	var g ghIssue
	if err := json.Unmarshal(data, &g); err != nil {
		return store.Issue{}, fmt.Errorf("decode issue: %w", err)
	}
	return toIssue(g), nil
}

func (c *Client) GetIssue(ctx context.Context, number int) (store.Issue, error) {
	data, err := c.doRequest(ctx, http.MethodGet, c.buildURL(fmt.Sprintf("%s/issues/%d", c.repoPath(), number), nil), nil)
	if err != nil {
		return store.Issue{}, err
	}
	var g ghIssue
	if err := json.Unmarshal(data, &g); err != nil {
		return store.Issue{}, fmt.Errorf("decode issue: %w", err)
	}
	return toIssue(g), nil
}

// UpdateIssue emulates the conditional write: it re-reads the issue and
// refuses the patch when the revision moved. The check-then-patch pair
// is not atomic on GitHub's side; the engine's bounded retry plus the
// idempotent label semantics keep the window harmless.
func (c *Client) UpdateIssue(ctx context.Context, number int, patch store.IssuePatch, expectedRevision int64) (store.Issue, error) {
	current, err := c.GetIssue(ctx, number)
	if err != nil {
		return store.Issue{}, err
	}
	if current.Revision != expectedRevision {
		return store.Issue{}, store.ErrRevisionConflict
	}

	fields := map[string]any{}
	if patch.Title != nil {
		fields["title"] = *patch.Title
	}
	if patch.Body != nil {
		fields["body"] = *patch.Body
	}
	if patch.State != nil {
		fields["state"] = *patch.State
	}
	if patch.Assignee != nil {
		if *patch.Assignee == "" {
			fields["assignees"] = []string{}
		} else {
			fields["assignees"] = []string{*patch.Assignee}
		}
	}
	if len(fields) > 0 {
		if _, err := c.doRequest(ctx, http.MethodPatch, c.buildURL(fmt.Sprintf("%s/issues/%d", c.repoPath(), number), nil), fields); err != nil {
			return store.Issue{}, err
		}
	}
	for _, l := range patch.RemoveLabels {
		u := c.buildURL(fmt.Sprintf("%s/issues/%d/labels/%s", c.repoPath(), number, url.PathEscape(l)), nil)
		if _, err := c.doRequest(ctx, http.MethodDelete, u, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Issue{}, err
		}
	}
	if len(patch.AddLabels) > 0 {
		u := c.buildURL(fmt.Sprintf("%s/issues/%d/labels", c.repoPath(), number), nil)
		if _, err := c.doRequest(ctx, http.MethodPost, u, map[string]any{"labels": patch.AddLabels}); err != nil {
			return store.Issue{}, err
		}
	}
	return c.GetIssue(ctx, number)
}

func (c *Client) ListIssues(ctx context.Context, filter store.IssueFilter) ([]store.Issue, error) {
	state := filter.State
	if state == "" {
		state = "all"
	}
	var out []store.Issue
	for page := 1; ; page++ {
		params := map[string]string{
			"state":    state,
			"per_page": strconv.Itoa(perPage),
			"page":     strconv.Itoa(page),
		}
		if len(filter.Labels) > 0 {
			params["labels"] = strings.Join(filter.Labels, ",")
		}
		data, err := c.doRequest(ctx, http.MethodGet, c.buildURL(c.repoPath()+"/issues", params), nil)
		if err != nil {
			return nil, err
		}
		var batch []ghIssue
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
		for _, g := range batch {
			if g.PullRequest != nil {
				continue
			}
			out = append(out, toIssue(g))
		}
		if len(batch) < perPage {
			return out, nil
		}
	}
}

// CreateComment posts a comment. The token's identity is the author on
// GitHub's side; actorID is carried inline so replayed streams keep the
// acting agent even when every agent shares one bot token.
func (c *Client) CreateComment(ctx context.Context, number int, actorID, body string) (store.Comment, error) {
	full := body
	if actorID != "" {
		full = "<!-- actor:" + actorID + " -->\n" + body
	}
	u := c.buildURL(fmt.Sprintf("%s/issues/%d/comments", c.repoPath(), number), nil)
	data, err := c.doRequest(ctx, http.MethodPost, u, map[string]string{"body": full})
	if err != nil {
		return store.Comment{}, err
	}
	var g ghComment
	if err := json.Unmarshal(data, &g); err != nil {
		return store.Comment{}, fmt.Errorf("decode comment: %w", err)
	}
	return toComment(g, number), nil
}

func (c *Client) ListComments(ctx context.Context, number int) ([]store.Comment, error) {
	var out []store.Comment
	for page := 1; ; page++ {
		params := map[string]string{
			"per_page": strconv.Itoa(perPage),
			"page":     strconv.Itoa(page),
		}
		u := c.buildURL(fmt.Sprintf("%s/issues/%d/comments", c.repoPath(), number), params)
		data, err := c.doRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var batch []ghComment
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
		for _, g := range batch {
			out = append(out, toComment(g, number))
		}
		if len(batch) < perPage {
			return out, nil
		}
	}
}

var actorMarker = "<!-- actor:"

func toComment(g ghComment, number int) store.Comment {
	actor := g.User.Login
	body := g.Body
	if strings.HasPrefix(body, actorMarker) {
		if end := strings.Index(body, "-->"); end > len(actorMarker) {
			actor = strings.TrimSpace(body[len(actorMarker):end])
			body = strings.TrimPrefix(body[end+len("-->"):], "\n")
		}
	}
	return store.Comment{
		ID:        g.ID,
		Issue:     number,
		ActorID:   actor,
		Body:      body,
		CreatedAt: g.CreatedAt,
	}
}
