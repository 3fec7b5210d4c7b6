package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ProjectStatus string

const (
	StatusDraft              ProjectStatus = "draft"
	StatusPendingReview      ProjectStatus = "pending_review"
	StatusLive               ProjectStatus = "live"
	StatusTeamSelected       ProjectStatus = "team_selected"
	StatusInProgress         ProjectStatus = "in_progress"
	StatusPendingFinalReview ProjectStatus = "pending_final_review"
	StatusCompleted          ProjectStatus = "completed"
	StatusCancelled          ProjectStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s ProjectStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type TeamSize struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// MilestoneDefinition is one entry of a project's milestone plan.
type MilestoneDefinition struct {
	Title             string `json:"title" yaml:"title"`
	ReleasePercentage int    `json:"release_percentage" yaml:"release_percentage"`
}

type Project struct {
	ID               string                `json:"id"`
	BusinessID       string                `json:"business_id"`
	Title            string                `json:"title"`
	Description      string                `json:"description,omitempty"`
	Budget           decimal.Decimal       `json:"budget"`
	TimelineEstimate string                `json:"timeline_estimate,omitempty"`
	RequiredSkills   []string              `json:"required_skills,omitempty"`
	TeamSize         TeamSize              `json:"team_size"`
	Status           ProjectStatus         `json:"status"`
	Plan             []MilestoneDefinition `json:"plan"`
	SelectedTeamID   string                `json:"selected_team_id,omitempty"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

type Team struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Rating       float64   `json:"rating"`
	PastProjects int       `json:"past_projects"`
	Reliability  float64   `json:"reliability"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationSelected ApplicationStatus = "selected"
	ApplicationRejected ApplicationStatus = "rejected"
)

type Application struct {
	ProjectID   string            `json:"project_id"`
	TeamID      string            `json:"team_id"`
	Pitch       string            `json:"pitch,omitempty"`
	Status      ApplicationStatus `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCurrent   MilestoneStatus = "current"
	MilestoneCompleted MilestoneStatus = "completed"
)

type Milestone struct {
	ProjectID         string          `json:"project_id"`
	SequenceIndex     int             `json:"sequence_index"`
	Title             string          `json:"title"`
	ReleasePercentage int             `json:"release_percentage"`
	Status            MilestoneStatus `json:"status"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

type LedgerEntry struct {
	MilestoneIndex int             `json:"milestone_index"`
	Amount         decimal.Decimal `json:"amount"`
	ReleasedAt     time.Time       `json:"released_at"`
}

// EscrowLedger holds a project's budget and the tranches released from it.
// Entries are append-only; Sealed ledgers accept no further writes.
type EscrowLedger struct {
	ProjectID      string          `json:"project_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	Schedule       []int           `json:"schedule"`
	Scale          int32           `json:"scale"`
	Entries        []LedgerEntry   `json:"entries"`
	Refundable     bool            `json:"refundable"`
	Sealed         bool            `json:"sealed"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FinalDeliverySubject is the review gate subject opened once every milestone is approved.
const FinalDeliverySubject = "final"

// MilestoneSubject returns the review gate subject for the milestone at index.
func MilestoneSubject(index int) string {
	return fmt.Sprintf("milestone:%d", index)
}

type ChecklistItem struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Checked bool   `json:"checked"`
}

type ChangeRequest struct {
	ID        string    `json:"id"`
	GateID    string    `json:"gate_id"`
	Note      string    `json:"note"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ReviewGate struct {
	ID                      string          `json:"id"`
	ProjectID               string          `json:"project_id"`
	Subject                 string          `json:"subject"`
	Items                   []ChecklistItem `json:"items"`
	ConsentGiven            bool            `json:"consent_given"`
	RevisionWindowExpiresAt *time.Time      `json:"revision_window_expires_at,omitempty"`
	Passed                  bool            `json:"passed"`
	PassedAt                *time.Time      `json:"passed_at,omitempty"`
	PassToken               string          `json:"pass_token,omitempty"`
	ChangeRequests          []ChangeRequest `json:"change_requests,omitempty"`
	OpenedAt                time.Time       `json:"opened_at"`
}

type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	ProjectID  string    `json:"project_id,omitempty"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}
