package planlinesdk

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

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL, projectID, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		ProjectID:   projectID,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Item represents the API item model.
type Item struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	SectionID    string            `json:"section_id"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	StartDate    *time.Time        `json:"start_date,omitempty"`
	EndDate      *time.Time        `json:"end_date,omitempty"`
	Status       string            `json:"status"`
	ParentItemID *string           `json:"parent_item_id,omitempty"`
	ItemDepth    int               `json:"item_depth"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// TreeNode is one node of a roadmap tree.
type TreeNode struct {
	Item            Item        `json:"item"`
	Children        []*TreeNode `json:"children"`
	ChildCount      int         `json:"child_count"`
	DescendantCount int         `json:"descendant_count"`
}

type PathEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Depth int    `json:"depth"`
}

// MutationResult is returned by attach, detach and move.
type MutationResult struct {
	Success  bool  `json:"success"`
	Item     *Item `json:"item,omitempty"`
	Repaired int   `json:"repaired,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code carries the server's error code,
// e.g. cycle_detected or max_depth_exceeded.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateItem creates a root item in a section.
func (c *Client) CreateItem(ctx context.Context, sectionID, itemType, title string) (Item, error) {
	body := map[string]any{
		"section_id": sectionID,
		"type":       itemType,
		"title":      title,
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.projectPath("items"), body, &resp)
	return resp, err
}

// Attach places a root item under parentID.
func (c *Client) Attach(ctx context.Context, childID, parentID string) (MutationResult, error) {
	var resp MutationResult
	err := c.do(ctx, http.MethodPost, itemPath(childID, "attach"), map[string]any{"parent_item_id": parentID}, &resp)
	return resp, err
}

// Detach makes an item a root.
func (c *Client) Detach(ctx context.Context, itemID string) (MutationResult, error) {
	var resp MutationResult
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "detach"), map[string]any{}, &resp)
	return resp, err
}

// Move reparents an item. An empty newParentID detaches it.
func (c *Client) Move(ctx context.Context, itemID, newParentID string) (MutationResult, error) {
	body := map[string]any{}
	if newParentID != "" {
		body["new_parent_id"] = newParentID
	}
	var resp MutationResult
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "move"), body, &resp)
	return resp, err
}

// Tree returns the project's forest, or the subtree of itemID when set.
func (c *Client) Tree(ctx context.Context, itemID string, includeArchived bool) ([]*TreeNode, error) {
	q := url.Values{}
	if itemID != "" {
		q.Set("item_id", itemID)
	} else {
		q.Set("project_id", c.ProjectID)
	}
	if includeArchived {
		q.Set("include_archived", "true")
	}
	var resp []*TreeNode
	err := c.do(ctx, http.MethodGet, "tree?"+q.Encode(), nil, &resp)
	return resp, err
}

// Path returns the ancestor chain of an item, root first.
func (c *Client) Path(ctx context.Context, itemID string) ([]PathEntry, error) {
	var resp []PathEntry
	err := c.do(ctx, http.MethodGet, itemPath(itemID, "path"), nil, &resp)
	return resp, err
}

// Descendants returns every descendant of an item, breadth first.
func (c *Client) Descendants(ctx context.Context, itemID string) ([]Item, error) {
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, itemPath(itemID, "descendants"), nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func itemPath(itemID, action string) string {
	return fmt.Sprintf("items/%s/%s", url.PathEscape(itemID), action)
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
