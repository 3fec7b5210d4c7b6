package lifecycle

import (
	"strings"
	"time"

	"campusworks/internal/domain"
)

// InitTrack creates the milestones of a project from its plan. Index 0 starts
// as current, the rest pending.
func InitTrack(projectID string, defs []domain.MilestoneDefinition, now time.Time) ([]domain.Milestone, error) {
	if len(defs) == 0 {
		return nil, domain.ErrEmptySchedule
	}
	ts := now.UTC()
	milestones := make([]domain.Milestone, len(defs))
	for i, d := range defs {
		milestones[i] = domain.Milestone{
			ProjectID:         projectID,
			SequenceIndex:     i,
			Title:             strings.TrimSpace(d.Title),
			ReleasePercentage: d.ReleasePercentage,
			Status:            domain.MilestonePending,
		}
	}
	milestones[0].Status = domain.MilestoneCurrent
	milestones[0].StartedAt = &ts
	return milestones, nil
}

// CurrentMilestone returns the milestone marked current, if any.
func CurrentMilestone(milestones []domain.Milestone) (domain.Milestone, bool) {
	for _, m := range milestones {
		if m.Status == domain.MilestoneCurrent {
			return m, true
		}
	}
	return domain.Milestone{}, false
}

// AdvanceTrack completes the current milestone and promotes the next one.
// complete is true when the completed milestone was the last.
func AdvanceTrack(milestones []domain.Milestone, now time.Time) (complete bool, err error) {
	idx := -1
	for i := range milestones {
		if milestones[i].Status == domain.MilestoneCurrent {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, domain.ErrNoCurrentMilestone
	}
	ts := now.UTC()
	milestones[idx].Status = domain.MilestoneCompleted
	milestones[idx].CompletedAt = &ts
	if idx+1 >= len(milestones) {
		return true, nil
	}
	milestones[idx+1].Status = domain.MilestoneCurrent
	milestones[idx+1].StartedAt = &ts
	return false, nil
}

// Percentages returns the release schedule of a plan.
func Percentages(defs []domain.MilestoneDefinition) []int {
	out := make([]int, len(defs))
	for i, d := range defs {
		out[i] = d.ReleasePercentage
	}
	return out
}
