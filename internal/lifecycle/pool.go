package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"campusworks/internal/domain"
)

// RankCriterion selects the team attribute applications are ranked by.
type RankCriterion string

const (
	RankByRating       RankCriterion = "rating"
	RankByPastProjects RankCriterion = "past_projects"
	RankByReliability  RankCriterion = "reliability"
	RankBySubmittedAt  RankCriterion = "submitted_at"
)

// ParseRankCriterion accepts the criterion names used by config and the API.
func ParseRankCriterion(s string) (RankCriterion, error) {
	switch c := RankCriterion(strings.ToLower(strings.TrimSpace(s))); c {
	case RankByRating, RankByPastProjects, RankByReliability, RankBySubmittedAt:
		return c, nil
	case "":
		return RankByRating, nil
	default:
		return "", domain.ErrInvalidInput.Withf("unknown rank criterion %q", s)
	}
}

// SubmitApplication adds a pending application for teamID.
func SubmitApplication(p domain.Project, apps []domain.Application, teamID, pitch string, now time.Time) (domain.Application, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return domain.Application{}, domain.ErrInvalidInput.Withf("team id required")
	}
	if p.Status != domain.StatusLive {
		return domain.Application{}, domain.ErrProjectNotLive.Withf("project %s is %s", p.ID, p.Status)
	}
	for _, a := range apps {
		if a.TeamID == teamID && a.Status != domain.ApplicationRejected {
			return domain.Application{}, domain.ErrDuplicateApplication.Withf("team %s", teamID)
		}
	}
	ts := now.UTC()
	return domain.Application{
		ProjectID:   p.ID,
		TeamID:      teamID,
		Pitch:       strings.TrimSpace(pitch),
		Status:      domain.ApplicationPending,
		SubmittedAt: ts,
		UpdatedAt:   ts,
	}, nil
}

// SelectApplication marks teamID's application selected and every sibling
// rejected in one step. Selecting the already selected team again is a no-op.
func SelectApplication(apps []domain.Application, teamID string, now time.Time) (string, error) {
	idx := -1
	for i, a := range apps {
		if a.TeamID == teamID {
			idx = i
		}
	}
	if idx < 0 {
		return "", domain.ErrApplicationNotFound.Withf("team %s", teamID)
	}
	for _, a := range apps {
		if a.Status == domain.ApplicationSelected && a.TeamID != teamID {
			return "", domain.ErrAlreadySelected.Withf("team %s", a.TeamID)
		}
	}
	if apps[idx].Status == domain.ApplicationSelected {
		return teamID, nil
	}
	ts := now.UTC()
	for i := range apps {
		if i == idx {
			apps[i].Status = domain.ApplicationSelected
		} else {
			apps[i].Status = domain.ApplicationRejected
		}
		apps[i].UpdatedAt = ts
	}
	return teamID, nil
}

// SelectedTeam returns the team whose application is selected, if any.
func SelectedTeam(apps []domain.Application) (string, bool) {
	for _, a := range apps {
		if a.Status == domain.ApplicationSelected {
			return a.TeamID, true
		}
	}
	return "", false
}

// RankApplications orders apps by criterion, highest first. Ties go to the
// earliest submission. Teams missing from teams rank with zero metadata.
func RankApplications(apps []domain.Application, teams map[string]domain.Team, criterion RankCriterion) []domain.RankedApplication {
	out := make([]domain.RankedApplication, 0, len(apps))
	for _, a := range apps {
		ra := domain.RankedApplication{Application: a}
		if t, ok := teams[a.TeamID]; ok {
			team := t
			ra.Team = &team
		}
		ra.Key = rankKey(ra, criterion)
		out = append(out, ra)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key > out[j].Key
		}
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].TeamID < out[j].TeamID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func rankKey(ra domain.RankedApplication, criterion RankCriterion) float64 {
	switch criterion {
	case RankBySubmittedAt:
		// earlier first; the tie-break does the ordering
		return 0
	case RankByPastProjects:
		if ra.Team == nil {
			return 0
		}
		return float64(ra.Team.PastProjects)
	case RankByReliability:
		if ra.Team == nil {
			return 0
		}
		return ra.Team.Reliability
	case RankByRating:
		if ra.Team == nil {
			return 0
		}
		return ra.Team.Rating
	default:
		panic(fmt.Sprintf("unhandled rank criterion %q", criterion))
	}
}
