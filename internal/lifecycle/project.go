package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"campusworks/internal/domain"
)

// ProjectInput are the fields a business supplies when posting a project.
type ProjectInput struct {
	ID               string
	BusinessID       string
	Title            string
	Description      string
	Budget           decimal.Decimal
	TimelineEstimate string
	RequiredSkills   []string
	TeamSize         domain.TeamSize
	Plan             []domain.MilestoneDefinition
}

// NewProject validates in and returns a Draft project.
func NewProject(in ProjectInput, now time.Time) (domain.Project, error) {
	if strings.TrimSpace(in.ID) == "" {
		return domain.Project{}, domain.ErrInvalidProject.Withf("id required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Project{}, domain.ErrInvalidProject.Withf("title required")
	}
	if in.Budget.IsNegative() {
		return domain.Project{}, domain.ErrInvalidProject.Withf("budget %s is negative", in.Budget)
	}
	if in.TeamSize.Min < 0 || in.TeamSize.Max < 0 {
		return domain.Project{}, domain.ErrInvalidProject.Withf("team size must not be negative")
	}
	if in.TeamSize.Max > 0 && in.TeamSize.Min > in.TeamSize.Max {
		return domain.Project{}, domain.ErrInvalidProject.Withf("team size min %d exceeds max %d", in.TeamSize.Min, in.TeamSize.Max)
	}
	if len(in.Plan) == 0 {
		return domain.Project{}, domain.ErrEmptySchedule
	}
	if err := ValidateSchedule(Percentages(in.Plan)); err != nil {
		return domain.Project{}, err
	}
	plan := make([]domain.MilestoneDefinition, len(in.Plan))
	for i, d := range in.Plan {
		plan[i] = domain.MilestoneDefinition{Title: strings.TrimSpace(d.Title), ReleasePercentage: d.ReleasePercentage}
		if plan[i].Title == "" {
			plan[i].Title = fmt.Sprintf("Milestone %d", i+1)
		}
	}
	ts := now.UTC()
	return domain.Project{
		ID:               strings.TrimSpace(in.ID),
		BusinessID:       strings.TrimSpace(in.BusinessID),
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		Budget:           in.Budget,
		TimelineEstimate: strings.TrimSpace(in.TimelineEstimate),
		RequiredSkills:   skillSet(in.RequiredSkills),
		TeamSize:         in.TeamSize,
		Status:           domain.StatusDraft,
		Plan:             plan,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}, nil
}

// PlanFromSchedule names the milestones of a percentage schedule.
func PlanFromSchedule(schedule []int) []domain.MilestoneDefinition {
	plan := make([]domain.MilestoneDefinition, len(schedule))
	for i, pct := range schedule {
		plan[i] = domain.MilestoneDefinition{Title: fmt.Sprintf("Milestone %d", i+1), ReleasePercentage: pct}
	}
	return plan
}

func skillSet(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
