package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"campusworks/internal/domain"
	"campusworks/internal/events"
	"campusworks/internal/lifecycle"
	"campusworks/internal/repo"
)

// CreateProjectOptions are parameters for posting a project. Plan wins over
// Schedule; with neither, the configured default schedule is used.
type CreateProjectOptions struct {
	ID               string
	BusinessID       string
	Title            string
	Description      string
	Budget           decimal.Decimal
	TimelineEstimate string
	RequiredSkills   []string
	TeamSize         domain.TeamSize
	Plan             []domain.MilestoneDefinition
	Schedule         string
	ActorID          string
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.ProjectState, error) {
	plan := opts.Plan
	if len(plan) == 0 {
		schedule, err := e.config().Schedule(opts.Schedule)
		if err != nil {
			return domain.ProjectState{}, domain.ErrInvalidSchedule.Withf("%v", err)
		}
		plan = lifecycle.PlanFromSchedule(schedule)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = e.newID()
	}
	businessID := opts.BusinessID
	if businessID == "" {
		businessID = opts.ActorID
	}

	unlock := e.lock(id)
	defer unlock()
	state, err := e.create(ctx, lifecycle.ProjectInput{
		ID:               id,
		BusinessID:       businessID,
		Title:            opts.Title,
		Description:      opts.Description,
		Budget:           opts.Budget,
		TimelineEstimate: opts.TimelineEstimate,
		RequiredSkills:   opts.RequiredSkills,
		TeamSize:         opts.TeamSize,
		Plan:             plan,
	}, opts.ActorID)
	e.Metrics.Transition("create", outcome(err))
	if err != nil {
		return domain.ProjectState{}, err
	}
	e.logger().Info("project created", "project_id", id, "budget", state.Project.Budget.String(), "milestones", len(state.Project.Plan), "actor_id", opts.ActorID)
	return state, nil
}

func (e Engine) create(ctx context.Context, in lifecycle.ProjectInput, actorID string) (domain.ProjectState, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectState{}, err
	}
	defer tx.Rollback()
	exists, err := e.Repo.ProjectExists(ctx, tx, in.ID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	if exists {
		return domain.ProjectState{}, domain.ErrProjectExists.Withf("%s", in.ID)
	}
	s, effects, err := e.machine().Create(in)
	if err != nil {
		return domain.ProjectState{}, err
	}
	return e.commit(ctx, tx, s, effects, actorID)
}

func (e Engine) SubmitForReview(ctx context.Context, projectID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "submit", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.Submit(s)
	})
}

// Approve publishes a project after review, opening it to applications.
func (e Engine) Approve(ctx context.Context, projectID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "approve", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.Approve(s)
	})
}

func (e Engine) SubmitApplication(ctx context.Context, projectID, teamID, pitch, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "apply", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		_, effects, err := m.Apply(s, teamID, pitch)
		return effects, err
	})
}

// SelectTeam picks the winning application and starts the first milestone.
func (e Engine) SelectTeam(ctx context.Context, projectID, teamID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "select", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.SelectTeam(s, teamID)
	})
}

func (e Engine) CheckGateItem(ctx context.Context, projectID, itemID string, checked bool, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "gate_check", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.CheckGateItem(s, itemID, checked)
	})
}

func (e Engine) GiveConsent(ctx context.Context, projectID string, consent bool, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "gate_consent", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.GiveConsent(s, consent)
	})
}

// RequestChanges records an advisory note on the active review gate.
func (e Engine) RequestChanges(ctx context.Context, projectID, note, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "gate_changes", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		_, effects, err := m.RequestChanges(s, note, actorID)
		return effects, err
	})
}

func (e Engine) PassGate(ctx context.Context, projectID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "gate_pass", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		_, effects, err := m.PassGate(s)
		return effects, err
	})
}

// ApproveMilestone releases the current tranche once its gate has passed.
func (e Engine) ApproveMilestone(ctx context.Context, projectID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "approve_milestone", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.ApproveMilestone(s)
	})
}

func (e Engine) ApproveFinal(ctx context.Context, projectID, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "approve_final", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.ApproveFinal(s)
	})
}

func (e Engine) Cancel(ctx context.Context, projectID, reason, actorID string) (domain.ProjectState, error) {
	return e.transition(ctx, "cancel", projectID, actorID, func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error) {
		return m.Cancel(s, strings.TrimSpace(reason))
	})
}

// RegisterTeam creates or updates the metadata applications are ranked by.
func (e Engine) RegisterTeam(ctx context.Context, t domain.Team, actorID string) (domain.Team, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.ID == "":
		return domain.Team{}, domain.ErrInvalidTeam.Withf("id required")
	case t.Name == "":
		return domain.Team{}, domain.ErrInvalidTeam.Withf("name required")
	case t.Rating < 0 || t.Rating > 5:
		return domain.Team{}, domain.ErrInvalidTeam.Withf("rating %.2f outside 0..5", t.Rating)
	case t.Reliability < 0 || t.Reliability > 1:
		return domain.Team{}, domain.ErrInvalidTeam.Withf("reliability %.2f outside 0..1", t.Reliability)
	case t.PastProjects < 0:
		return domain.Team{}, domain.ErrInvalidTeam.Withf("past projects must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	now := e.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	existing, err := e.Repo.GetTeam(ctx, tx, t.ID)
	switch {
	case err == nil:
		t.CreatedAt = existing.CreatedAt
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Team{}, err
	}
	if err := e.Repo.UpsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if _, err := e.Events.Append(ctx, tx, "team.registered", "", "team", t.ID, actorID, events.EventPayload{
		"name":          t.Name,
		"rating":        t.Rating,
		"past_projects": t.PastProjects,
		"reliability":   t.Reliability,
	}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	e.logger().Info("team registered", "team_id", t.ID, "actor_id", actorID)
	return t, nil
}
