package server

import (
	"encoding/json"
	"time"

	"campusworks/internal/domain"
)

// Request payloads. Money travels as decimal strings.

type TeamSizeBody struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type MilestoneDefinitionBody struct {
	Title             string `json:"title,omitempty"`
	ReleasePercentage int    `json:"release_percentage"`
}

type CreateProjectRequest struct {
	ID               string                    `json:"id,omitempty"`
	BusinessID       string                    `json:"business_id,omitempty"`
	Title            string                    `json:"title"`
	Description      string                    `json:"description,omitempty"`
	Budget           string                    `json:"budget" example:"1000.00"`
	TimelineEstimate string                    `json:"timeline_estimate,omitempty"`
	RequiredSkills   []string                  `json:"required_skills,omitempty"`
	TeamSize         *TeamSizeBody             `json:"team_size,omitempty"`
	Plan             []MilestoneDefinitionBody `json:"plan,omitempty"`
	Schedule         string                    `json:"schedule,omitempty" example:"standard"`
}

type ApplyRequest struct {
	TeamID string `json:"team_id"`
	Pitch  string `json:"pitch,omitempty"`
}

type SelectTeamRequest struct {
	TeamID string `json:"team_id"`
}

type CheckItemRequest struct {
	ItemID  string `json:"item_id"`
	Checked *bool  `json:"checked,omitempty"`
}

type ConsentRequest struct {
	Consent *bool `json:"consent,omitempty"`
}

type ChangeRequestBody struct {
	Note string `json:"note"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TeamRequest struct {
	Name         string  `json:"name"`
	Rating       float64 `json:"rating,omitempty"`
	PastProjects int     `json:"past_projects,omitempty"`
	Reliability  float64 `json:"reliability,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID               string                    `json:"id"`
	BusinessID       string                    `json:"business_id"`
	Title            string                    `json:"title"`
	Description      string                    `json:"description,omitempty"`
	Budget           string                    `json:"budget"`
	TimelineEstimate string                    `json:"timeline_estimate,omitempty"`
	RequiredSkills   []string                  `json:"required_skills"`
	TeamSize         TeamSizeBody              `json:"team_size"`
	Status           string                    `json:"status" enum:"draft,pending_review,live,team_selected,in_progress,pending_final_review,completed,cancelled"`
	Plan             []MilestoneDefinitionBody `json:"plan"`
	SelectedTeamID   string                    `json:"selected_team_id,omitempty"`
	CancelReason     string                    `json:"cancel_reason,omitempty"`
	CreatedAt        string                    `json:"created_at" format:"date-time"`
	UpdatedAt        string                    `json:"updated_at" format:"date-time"`
}

type MilestoneResponse struct {
	SequenceIndex     int     `json:"sequence_index"`
	Title             string  `json:"title"`
	ReleasePercentage int     `json:"release_percentage"`
	Status            string  `json:"status" enum:"pending,current,completed"`
	StartedAt         *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
}

type LedgerEntryResponse struct {
	MilestoneIndex int    `json:"milestone_index"`
	Amount         string `json:"amount"`
	ReleasedAt     string `json:"released_at" format:"date-time"`
}

type BalanceResponse struct {
	Total      string                `json:"total"`
	Released   string                `json:"released"`
	Held       string                `json:"held"`
	Refundable bool                  `json:"refundable"`
	Sealed     bool                  `json:"sealed"`
	Entries    []LedgerEntryResponse `json:"entries"`
}

type TeamResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Rating       float64 `json:"rating"`
	PastProjects int     `json:"past_projects"`
	Reliability  float64 `json:"reliability"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type ApplicationResponse struct {
	TeamID      string        `json:"team_id"`
	Pitch       string        `json:"pitch,omitempty"`
	Status      string        `json:"status" enum:"pending,selected,rejected"`
	Rank        int           `json:"rank"`
	Key         float64       `json:"key"`
	Team        *TeamResponse `json:"team,omitempty"`
	SubmittedAt string        `json:"submitted_at" format:"date-time"`
}

type ChecklistItemResponse struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Checked bool   `json:"checked"`
}

type ChangeRequestResponse struct {
	ID        string `json:"id"`
	Note      string `json:"note"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type GateResponse struct {
	ID                      string                  `json:"id"`
	Subject                 string                  `json:"subject" example:"milestone:0"`
	Items                   []ChecklistItemResponse `json:"items"`
	ConsentGiven            bool                    `json:"consent_given"`
	RevisionWindowExpiresAt *string                 `json:"revision_window_expires_at,omitempty" format:"date-time"`
	Passed                  bool                    `json:"passed"`
	PassedAt                *string                 `json:"passed_at,omitempty" format:"date-time"`
	PassToken               string                  `json:"pass_token,omitempty"`
	ChangeRequests          []ChangeRequestResponse `json:"change_requests"`
	OpenedAt                string                  `json:"opened_at" format:"date-time"`
}

type ProjectStateResponse struct {
	Project          ProjectResponse       `json:"project"`
	CurrentMilestone *MilestoneResponse    `json:"current_milestone,omitempty"`
	Milestones       []MilestoneResponse   `json:"milestones"`
	Ledger           *BalanceResponse      `json:"ledger,omitempty"`
	Applications     []ApplicationResponse `json:"applications"`
	RankedBy         string                `json:"ranked_by"`
	Gate             *GateResponse         `json:"gate,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

// Conversion helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func projectResponse(p domain.Project) ProjectResponse {
	plan := make([]MilestoneDefinitionBody, len(p.Plan))
	for i, d := range p.Plan {
		plan[i] = MilestoneDefinitionBody(d)
	}
	return ProjectResponse{
		ID:               p.ID,
		BusinessID:       p.BusinessID,
		Title:            p.Title,
		Description:      p.Description,
		Budget:           p.Budget.String(),
		TimelineEstimate: p.TimelineEstimate,
		RequiredSkills:   nonNilSlice(p.RequiredSkills),
		TeamSize:         TeamSizeBody(p.TeamSize),
		Status:           string(p.Status),
		Plan:             plan,
		SelectedTeamID:   p.SelectedTeamID,
		CancelReason:     p.CancelReason,
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func milestoneResponse(m domain.Milestone) MilestoneResponse {
	return MilestoneResponse{
		SequenceIndex:     m.SequenceIndex,
		Title:             m.Title,
		ReleasePercentage: m.ReleasePercentage,
		Status:            string(m.Status),
		StartedAt:         formatTimePtr(m.StartedAt),
		CompletedAt:       formatTimePtr(m.CompletedAt),
	}
}

func balanceResponse(b domain.Balance) BalanceResponse {
	entries := make([]LedgerEntryResponse, 0, len(b.Entries))
	for _, e := range b.Entries {
		entries = append(entries, LedgerEntryResponse{
			MilestoneIndex: e.MilestoneIndex,
			Amount:         e.Amount.String(),
			ReleasedAt:     formatTime(e.ReleasedAt),
		})
	}
	return BalanceResponse{
		Total:      b.Total.String(),
		Released:   b.Released.String(),
		Held:       b.Held.String(),
		Refundable: b.Refundable,
		Sealed:     b.Sealed,
		Entries:    entries,
	}
}

func teamResponse(t domain.Team) TeamResponse {
	return TeamResponse{
		ID:           t.ID,
		Name:         t.Name,
		Rating:       t.Rating,
		PastProjects: t.PastProjects,
		Reliability:  t.Reliability,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

func applicationResponses(items []domain.RankedApplication) []ApplicationResponse {
	out := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		res := ApplicationResponse{
			TeamID:      a.TeamID,
			Pitch:       a.Pitch,
			Status:      string(a.Status),
			Rank:        a.Rank,
			Key:         a.Key,
			SubmittedAt: formatTime(a.SubmittedAt),
		}
		if a.Team != nil {
			t := teamResponse(*a.Team)
			res.Team = &t
		}
		out = append(out, res)
	}
	return out
}

func gateResponse(g domain.ReviewGate) GateResponse {
	items := make([]ChecklistItemResponse, len(g.Items))
	for i, it := range g.Items {
		items[i] = ChecklistItemResponse(it)
	}
	crs := make([]ChangeRequestResponse, 0, len(g.ChangeRequests))
	for _, cr := range g.ChangeRequests {
		crs = append(crs, ChangeRequestResponse{
			ID:        cr.ID,
			Note:      cr.Note,
			ActorID:   cr.ActorID,
			CreatedAt: formatTime(cr.CreatedAt),
		})
	}
	return GateResponse{
		ID:                      g.ID,
		Subject:                 g.Subject,
		Items:                   items,
		ConsentGiven:            g.ConsentGiven,
		RevisionWindowExpiresAt: formatTimePtr(g.RevisionWindowExpiresAt),
		Passed:                  g.Passed,
		PassedAt:                formatTimePtr(g.PassedAt),
		PassToken:               g.PassToken,
		ChangeRequests:          crs,
		OpenedAt:                formatTime(g.OpenedAt),
	}
}

func stateResponse(s domain.ProjectState) ProjectStateResponse {
	res := ProjectStateResponse{
		Project:      projectResponse(s.Project),
		Milestones:   make([]MilestoneResponse, 0, len(s.Milestones)),
		Applications: applicationResponses(s.Applications),
		RankedBy:     s.RankedBy,
	}
	for _, m := range s.Milestones {
		res.Milestones = append(res.Milestones, milestoneResponse(m))
	}
	if s.CurrentMilestone != nil {
		m := milestoneResponse(*s.CurrentMilestone)
		res.CurrentMilestone = &m
	}
	if s.Ledger != nil {
		b := balanceResponse(*s.Ledger)
		res.Ledger = &b
	}
	if s.Gate != nil {
		g := gateResponse(*s.Gate)
		res.Gate = &g
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         formatTime(e.TS),
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
