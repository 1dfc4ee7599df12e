package blueprintsdk

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

	"blueprint/internal/domain"
)

// Client is a minimal Blueprint HTTP API client. It satisfies
// refine.Generator, so an editing session can run against a remote server.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Generation calls wait on the
// model, hence the long timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  2 * time.Minute,
	}
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// EventQuery filters ListEvents. Zero values are omitted.
type EventQuery struct {
	Task   string
	Status string
	Limit  int
	Cursor string
}

// GraphFromText generates a graph from prose. The model output is returned
// as received.
func (c *Client) GraphFromText(ctx context.Context, text string, variant domain.GraphVariant) (json.RawMessage, error) {
	body := map[string]any{"text": text}
	if variant != "" {
		body["type"] = variant
	}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "graph/from-text", body, &resp)
	return resp, err
}

// SuggestGraph asks for a revised graph toward goal.
func (c *Client) SuggestGraph(ctx context.Context, graph any, goal string) (json.RawMessage, error) {
	body := map[string]any{"graph": graph, "goal": goal}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "graph/suggest", body, &resp)
	return resp, err
}

func (c *Client) RecommendStack(ctx context.Context, requirements string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "stack/recommend", map[string]any{"requirements": requirements}, &resp)
	return resp, err
}

// ProjectPlan drafts a plan for idea. stack may be nil.
func (c *Client) ProjectPlan(ctx context.Context, idea string, stack *domain.StackConfig) (json.RawMessage, error) {
	body := map[string]any{"idea": idea}
	if stack != nil {
		body["stack"] = stack
	}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "plan", body, &resp)
	return resp, err
}

func (c *Client) Scaffold(ctx context.Context, plan json.RawMessage, stack domain.StackConfig) (json.RawMessage, error) {
	body := map[string]any{"plan": plan, "stack": stack}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "scaffold", body, &resp)
	return resp, err
}

// DocsFromPlan returns Markdown documentation for a plan.
func (c *Client) DocsFromPlan(ctx context.Context, plan json.RawMessage) (string, error) {
	var resp struct {
		Markdown string `json:"markdown"`
	}
	err := c.do(ctx, http.MethodPost, "docs", map[string]any{"plan": plan}, &resp)
	return resp.Markdown, err
}

// DocsFromPrompt returns a structured document. docContext may be empty.
func (c *Client) DocsFromPrompt(ctx context.Context, prompt, docContext string) (json.RawMessage, error) {
	body := map[string]any{"prompt": prompt}
	if docContext != "" {
		body["context"] = docContext
	}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "docs", body, &resp)
	return resp, err
}

// ListEvents returns recent generation events, newest first.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.Task != "" {
		params.Set("task", q.Task)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var resp domain.Event
	err := c.do(ctx, http.MethodGet, "events/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
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
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error   string         `json:"error"`
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Code, env.Error, env.Details
		}
		return apiErr
	}
	if out != nil {
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
