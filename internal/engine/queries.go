package engine

import (
	"context"
	"errors"
	"fmt"

	"campusworks/internal/domain"
	"campusworks/internal/lifecycle"
	"campusworks/internal/repo"
)

// GetProjectState returns the full snapshot of a project with applications
// ranked by criterion (the configured default when empty). It takes no
// project lock and never writes.
func (e Engine) GetProjectState(ctx context.Context, projectID, criterion string) (domain.ProjectState, error) {
	s, err := e.loadReadOnly(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	return e.snapshot(ctx, nil, s, criterion)
}

func (e Engine) loadReadOnly(ctx context.Context, projectID string) (*lifecycle.State, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	s, err := e.Repo.LoadState(ctx, tx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.ErrProjectNotFound.Withf("%s", projectID)
		}
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return s, nil
}

// ListApplications returns a project's applications ranked by criterion.
func (e Engine) ListApplications(ctx context.Context, projectID, criterion string) ([]domain.RankedApplication, error) {
	state, err := e.GetProjectState(ctx, projectID, criterion)
	if err != nil {
		return nil, err
	}
	return state.Applications, nil
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" {
		switch domain.ProjectStatus(f.Status) {
		case domain.StatusDraft, domain.StatusPendingReview, domain.StatusLive, domain.StatusTeamSelected,
			domain.StatusInProgress, domain.StatusPendingFinalReview, domain.StatusCompleted, domain.StatusCancelled:
		default:
			return nil, domain.ErrInvalidInput.Withf("unknown status %q", f.Status)
		}
	}
	return e.Repo.ListProjects(ctx, f)
}

// RefreshProjectGauge recounts projects per status into the metrics gauge.
func (e Engine) RefreshProjectGauge(ctx context.Context) error {
	if e.Metrics == nil {
		return nil
	}
	counts, err := e.Repo.CountProjectsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	e.Metrics.SetProjects(counts)
	return nil
}

// ListEvents returns audit events newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	if f.ProjectID != "" {
		exists, err := e.Repo.ProjectExists(ctx, nil, f.ProjectID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrProjectNotFound.Withf("%s", f.ProjectID)
		}
	}
	return e.Repo.LatestEvents(ctx, f)
}

func (e Engine) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return e.Repo.ListTeams(ctx)
}
