package campusworkssdk

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

// Client is a minimal Campusworks HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; servers accept it
	// only in development mode.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type MilestoneDefinition struct {
	Title             string `json:"title,omitempty"`
	ReleasePercentage int    `json:"release_percentage"`
}

type TeamSize struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Project is the posted project. Budget is a decimal string.
type Project struct {
	ID               string                `json:"id"`
	BusinessID       string                `json:"business_id"`
	Title            string                `json:"title"`
	Description      string                `json:"description,omitempty"`
	Budget           string                `json:"budget"`
	TimelineEstimate string                `json:"timeline_estimate,omitempty"`
	RequiredSkills   []string              `json:"required_skills"`
	TeamSize         TeamSize              `json:"team_size"`
	Status           string                `json:"status"`
	Plan             []MilestoneDefinition `json:"plan"`
	SelectedTeamID   string                `json:"selected_team_id,omitempty"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

type Milestone struct {
	SequenceIndex     int    `json:"sequence_index"`
	Title             string `json:"title"`
	ReleasePercentage int    `json:"release_percentage"`
	Status            string `json:"status"`
}

type LedgerEntry struct {
	MilestoneIndex int    `json:"milestone_index"`
	Amount         string `json:"amount"`
	ReleasedAt     string `json:"released_at"`
}

// Balance is the escrow view of a project. Amounts are decimal strings.
type Balance struct {
	Total      string        `json:"total"`
	Released   string        `json:"released"`
	Held       string        `json:"held"`
	Refundable bool          `json:"refundable"`
	Sealed     bool          `json:"sealed"`
	Entries    []LedgerEntry `json:"entries"`
}

type Team struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Rating       float64 `json:"rating"`
	PastProjects int     `json:"past_projects"`
	Reliability  float64 `json:"reliability"`
}

type Application struct {
	TeamID      string  `json:"team_id"`
	Pitch       string  `json:"pitch,omitempty"`
	Status      string  `json:"status"`
	Rank        int     `json:"rank"`
	Key         float64 `json:"key"`
	Team        *Team   `json:"team,omitempty"`
	SubmittedAt string  `json:"submitted_at"`
}

type ChecklistItem struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Checked bool   `json:"checked"`
}

type ChangeRequest struct {
	ID        string `json:"id"`
	Note      string `json:"note"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at"`
}

type Gate struct {
	ID                      string          `json:"id"`
	Subject                 string          `json:"subject"`
	Items                   []ChecklistItem `json:"items"`
	ConsentGiven            bool            `json:"consent_given"`
	RevisionWindowExpiresAt string          `json:"revision_window_expires_at,omitempty"`
	Passed                  bool            `json:"passed"`
	PassToken               string          `json:"pass_token,omitempty"`
	ChangeRequests          []ChangeRequest `json:"change_requests"`
}

// ProjectState is the snapshot every command returns.
type ProjectState struct {
	Project          Project       `json:"project"`
	CurrentMilestone *Milestone    `json:"current_milestone,omitempty"`
	Milestones       []Milestone   `json:"milestones"`
	Ledger           *Balance      `json:"ledger,omitempty"`
	Applications     []Application `json:"applications"`
	RankedBy         string        `json:"ranked_by"`
	Gate             *Gate         `json:"gate,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type CreateProjectInput struct {
	ID               string                `json:"id,omitempty"`
	BusinessID       string                `json:"business_id,omitempty"`
	Title            string                `json:"title"`
	Description      string                `json:"description,omitempty"`
	Budget           string                `json:"budget"`
	TimelineEstimate string                `json:"timeline_estimate,omitempty"`
	RequiredSkills   []string              `json:"required_skills,omitempty"`
	TeamSize         *TeamSize             `json:"team_size,omitempty"`
	Plan             []MilestoneDefinition `json:"plan,omitempty"`
	Schedule         string                `json:"schedule,omitempty"`
}

func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (ProjectState, error) {
	var resp ProjectState
	err := c.do(ctx, http.MethodPost, "v1/projects", in, &resp)
	return resp, err
}

// Project returns the snapshot of a project with applications ranked by rank
// (server default when empty).
func (c *Client) Project(ctx context.Context, id, rank string) (ProjectState, error) {
	var resp ProjectState
	endpoint := withQuery(c.projectPath(id, ""), url.Values{"rank": {rank}})
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, withQuery("v1/projects", url.Values{"status": {status}}), nil, &resp)
	return resp, err
}

func (c *Client) Submit(ctx context.Context, id string) (ProjectState, error) {
	return c.transition(ctx, id, "submit", nil)
}

func (c *Client) Approve(ctx context.Context, id string) (ProjectState, error) {
	return c.transition(ctx, id, "approve", nil)
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (ProjectState, error) {
	return c.transition(ctx, id, "cancel", map[string]any{"reason": reason})
}

// Apply submits teamID's application with an optional pitch.
func (c *Client) Apply(ctx context.Context, id, teamID, pitch string) (ProjectState, error) {
	return c.transition(ctx, id, "applications", map[string]any{"team_id": teamID, "pitch": pitch})
}

func (c *Client) Applications(ctx context.Context, id, rank string) ([]Application, error) {
	var resp []Application
	endpoint := withQuery(c.projectPath(id, "applications"), url.Values{"rank": {rank}})
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SelectTeam(ctx context.Context, id, teamID string) (ProjectState, error) {
	return c.transition(ctx, id, "select", map[string]any{"team_id": teamID})
}

func (c *Client) CheckItem(ctx context.Context, id, itemID string, checked bool) (ProjectState, error) {
	return c.transition(ctx, id, "gate/items", map[string]any{"item_id": itemID, "checked": checked})
}

func (c *Client) Consent(ctx context.Context, id string, consent bool) (ProjectState, error) {
	return c.transition(ctx, id, "gate/consent", map[string]any{"consent": consent})
}

func (c *Client) RequestChanges(ctx context.Context, id, note string) (ProjectState, error) {
	return c.transition(ctx, id, "gate/changes", map[string]any{"note": note})
}

func (c *Client) PassGate(ctx context.Context, id string) (ProjectState, error) {
	return c.transition(ctx, id, "gate/pass", nil)
}

// ApproveMilestone releases the current milestone's tranche.
func (c *Client) ApproveMilestone(ctx context.Context, id string) (ProjectState, error) {
	return c.transition(ctx, id, "milestones/approve", nil)
}

func (c *Client) ApproveFinal(ctx context.Context, id string) (ProjectState, error) {
	return c.transition(ctx, id, "final/approve", nil)
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{"cursor": {cursor}}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath(id, "events"), q), nil, &resp)
	return resp, err
}

func (c *Client) PutTeam(ctx context.Context, t Team) (Team, error) {
	body := map[string]any{
		"name":          t.Name,
		"rating":        t.Rating,
		"past_projects": t.PastProjects,
		"reliability":   t.Reliability,
	}
	var resp Team
	err := c.do(ctx, http.MethodPut, "v1/teams/"+url.PathEscape(t.ID), body, &resp)
	return resp, err
}

func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	var resp []Team
	err := c.do(ctx, http.MethodGet, "v1/teams", nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action string, body any) (ProjectState, error) {
	var resp ProjectState
	err := c.do(ctx, http.MethodPost, c.projectPath(id, action), body, &resp)
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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

func (c *Client) projectPath(id, p string) string {
	endpoint := "v1/projects/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func withQuery(endpoint string, q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
