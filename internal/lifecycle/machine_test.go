package lifecycle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusworks/internal/domain"
)

func testMachine() Machine {
	n := 0
	return Machine{
		Policy: Policy{
			Scale:              2,
			RevisionWindow:     48 * time.Hour,
			MilestoneChecklist: template,
			FinalChecklist:     []domain.ChecklistItem{{ID: "handover", Label: "Handover complete"}},
		},
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
}

func newState(t *testing.T, m Machine, budget string, schedule []int) *State {
	t.Helper()
	s, effects, err := m.Create(ProjectInput{
		ID:             "p1",
		BusinessID:     "biz",
		Title:          "Landing page",
		Budget:         dec(budget),
		RequiredSkills: []string{"Go", "go", " design "},
		Plan:           PlanFromSchedule(schedule),
	})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, []string{"design", "go"}, s.Project.RequiredSkills)
	return s
}

func liveState(t *testing.T, m Machine, budget string, schedule []int) *State {
	t.Helper()
	s := newState(t, m, budget, schedule)
	_, err := m.Submit(s)
	require.NoError(t, err)
	_, err = m.Approve(s)
	require.NoError(t, err)
	return s
}

func passActive(t *testing.T, m Machine, s *State) {
	t.Helper()
	for _, it := range s.ActiveGate().Items {
		_, err := m.CheckGateItem(s, it.ID, true)
		require.NoError(t, err)
	}
	_, err := m.GiveConsent(s, true)
	require.NoError(t, err)
	_, _, err = m.PassGate(s)
	require.NoError(t, err)
}

func TestCreateValidatesPlan(t *testing.T) {
	m := testMachine()
	_, _, err := m.Create(ProjectInput{ID: "p1", Title: "x", Budget: dec("10"), Plan: PlanFromSchedule([]int{50, 40})})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)
	_, _, err = m.Create(ProjectInput{ID: "p1", Title: "x", Budget: dec("10")})
	assert.ErrorIs(t, err, domain.ErrEmptySchedule)
	_, _, err = m.Create(ProjectInput{ID: "p1", Title: "x", Budget: dec("-1"), Plan: PlanFromSchedule([]int{100})})
	assert.ErrorIs(t, err, domain.ErrInvalidProject)
	_, _, err = m.Create(ProjectInput{ID: "p1", Budget: dec("1"), Plan: PlanFromSchedule([]int{100})})
	assert.ErrorIs(t, err, domain.ErrInvalidProject)
}

func TestSubmitAndApproveRequireStatus(t *testing.T) {
	m := testMachine()
	s := newState(t, m, "100", []int{100})

	_, err := m.Approve(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.Submit(s)
	require.NoError(t, err)
	_, err = m.Submit(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.Approve(s)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLive, s.Project.Status)
}

func TestSelectionClosesPool(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "250", []int{25, 75})

	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, _, err = m.Apply(s, "team-b", "")
	require.NoError(t, err)

	effects, err := m.SelectTeam(s, "team-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, s.Project.Status)
	assert.Equal(t, "team-a", s.Project.SelectedTeamID)
	var types []string
	for _, e := range effects {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"project.team_selected", "project.started", "gate.opened"}, types)

	_, _, err = m.Apply(s, "team-c", "")
	assert.ErrorIs(t, err, domain.ErrProjectNotLive)

	_, err = m.SelectTeam(s, "team-b")
	assert.ErrorIs(t, err, domain.ErrAlreadySelected)
	_, err = m.SelectTeam(s, "team-a")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.ApplicationRejected, s.Applications[1].Status)

	require.NotNil(t, s.Ledger)
	require.Len(t, s.Milestones, 2)
	g := s.ActiveGate()
	require.NotNil(t, g)
	assert.Equal(t, domain.MilestoneSubject(0), g.Subject)
}

func TestApproveFinalBeforeTrackComplete(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "250", []int{25, 75})
	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, err = m.SelectTeam(s, "team-a")
	require.NoError(t, err)

	_, err = m.ApproveFinal(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	passActive(t, m, s)
	_, err = m.ApproveMilestone(s)
	require.NoError(t, err)
	_, err = m.ApproveFinal(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestApproveMilestoneRequiresPassedGate(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "100", []int{100})
	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, err = m.SelectTeam(s, "team-a")
	require.NoError(t, err)

	_, err = m.ApproveMilestone(s)
	assert.ErrorIs(t, err, domain.ErrGateNotPassed)
	assert.Empty(t, s.Ledger.Entries)
}

func TestFullLifecycle(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "250", []int{33, 33, 34})
	_, _, err := m.Apply(s, "team-a", "pitch")
	require.NoError(t, err)
	_, err = m.SelectTeam(s, "team-a")
	require.NoError(t, err)

	want := []string{"82.5", "165", "250"}
	for i := range want {
		_, _, err := m.RequestChanges(s, "tighten copy", "biz")
		require.NoError(t, err)
		passActive(t, m, s)
		_, err = m.ApproveMilestone(s)
		require.NoError(t, err)
		assert.True(t, s.Ledger.ReleasedAmount.Equal(dec(want[i])), "after %d released %s", i, s.Ledger.ReleasedAmount)
	}
	assert.Equal(t, domain.StatusPendingFinalReview, s.Project.Status)
	g := s.ActiveGate()
	require.NotNil(t, g)
	assert.Equal(t, domain.FinalDeliverySubject, g.Subject)
	assert.Nil(t, g.RevisionWindowExpiresAt)

	_, err = m.ApproveMilestone(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.ApproveFinal(s)
	assert.ErrorIs(t, err, domain.ErrGateNotPassed)

	passActive(t, m, s)
	_, err = m.ApproveFinal(s)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Project.Status)
	assert.True(t, s.Ledger.Sealed)
	assert.True(t, s.Ledger.ReleasedAmount.Equal(s.Ledger.TotalAmount))

	_, err = m.Cancel(s, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	snap := Snapshot(s, nil, RankByRating)
	assert.Nil(t, snap.CurrentMilestone)
	require.NotNil(t, snap.Ledger)
	assert.True(t, snap.Ledger.Held.IsZero())
}

func TestFinalGateRefusesChangeRequests(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "100", []int{100})
	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, err = m.SelectTeam(s, "team-a")
	require.NoError(t, err)
	passActive(t, m, s)
	_, err = m.ApproveMilestone(s)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingFinalReview, s.Project.Status)

	m.Now = func() time.Time { return fixedNow.AddDate(1, 0, 0) }
	_, effects, err := m.RequestChanges(s, "redo the handover", "biz")
	assert.ErrorIs(t, err, domain.ErrRevisionWindowClosed)
	assert.Empty(t, effects)
	assert.Empty(t, s.ActiveGate().ChangeRequests)
}

func TestCancelMarksRefundable(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "100", []int{40, 60})
	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, err = m.SelectTeam(s, "team-a")
	require.NoError(t, err)
	passActive(t, m, s)
	_, err = m.ApproveMilestone(s)
	require.NoError(t, err)

	effects, err := m.Cancel(s, "budget cut")
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, "60", effects[0].Payload["refundable"])
	assert.Equal(t, domain.StatusCancelled, s.Project.Status)
	assert.Equal(t, "budget cut", s.Project.CancelReason)
	assert.True(t, s.Ledger.Refundable)
	assert.True(t, s.Ledger.ReleasedAmount.Equal(dec("40")))

	_, err = m.ApproveMilestone(s)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.CheckGateItem(s, "deliverables", true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelRejectsPendingApplications(t *testing.T) {
	m := testMachine()
	s := liveState(t, m, "100", []int{100})
	_, _, err := m.Apply(s, "team-a", "")
	require.NoError(t, err)
	_, err = m.Cancel(s, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationRejected, s.Applications[0].Status)
	assert.Nil(t, s.Ledger)
}
