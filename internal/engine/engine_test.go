package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"campusworks/internal/config"
	"campusworks/internal/db"
	"campusworks/internal/domain"
	"campusworks/internal/engine"
	"campusworks/internal/metrics"
	"campusworks/internal/migrate"
	"campusworks/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	var n int64
	eng.NewID = func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1)) }
	eng.Log = log.New(io.Discard)
	eng.Metrics = metrics.New()
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) liveProject(t *testing.T, id, budget, schedule string) {
	t.Helper()
	if _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		ID:       id,
		Title:    "Campus app",
		Budget:   decimal.RequireFromString(budget),
		Schedule: schedule,
		ActorID:  "biz",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, id, "biz"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, id, "reviewer"); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (env testEnv) passGate(t *testing.T, id string) domain.ProjectState {
	t.Helper()
	state, err := env.Engine.GetProjectState(env.Ctx, id, "")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Gate == nil {
		t.Fatalf("no active gate in %s", state.Project.Status)
	}
	for _, it := range state.Gate.Items {
		if _, err := env.Engine.CheckGateItem(env.Ctx, id, it.ID, true, "biz"); err != nil {
			t.Fatalf("check %s: %v", it.ID, err)
		}
	}
	if _, err := env.Engine.GiveConsent(env.Ctx, id, true, "biz"); err != nil {
		t.Fatalf("consent: %v", err)
	}
	state, err = env.Engine.PassGate(env.Ctx, id, "biz")
	if err != nil {
		t.Fatalf("pass gate: %v", err)
	}
	return state
}

func TestProjectLifecycleEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.liveProject(t, "p1", "250", "thirds")

	if _, err := env.Engine.RegisterTeam(env.Ctx, domain.Team{ID: "team-a", Name: "A", Rating: 4.1}, "admin"); err != nil {
		t.Fatalf("register team: %v", err)
	}
	if _, err := env.Engine.RegisterTeam(env.Ctx, domain.Team{ID: "team-b", Name: "B", Rating: 4.9}, "admin"); err != nil {
		t.Fatalf("register team: %v", err)
	}
	for _, team := range []string{"team-a", "team-b"} {
		if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", team, "hire us", team); err != nil {
			t.Fatalf("apply %s: %v", team, err)
		}
	}
	apps, err := env.Engine.ListApplications(env.Ctx, "p1", "rating")
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 2 || apps[0].TeamID != "team-b" || apps[0].Rank != 1 {
		t.Fatalf("unexpected ranking %+v", apps)
	}

	state, err := env.Engine.SelectTeam(env.Ctx, "p1", "team-a", "biz")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if state.Project.Status != domain.StatusInProgress || state.CurrentMilestone == nil || state.CurrentMilestone.SequenceIndex != 0 {
		t.Fatalf("unexpected state after select: %+v", state.Project)
	}
	if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", "team-c", "", "team-c"); !errors.Is(err, domain.ErrProjectNotLive) {
		t.Fatalf("expected project_not_live, got %v", err)
	}

	want := []string{"82.5", "165", "250"}
	for i, w := range want {
		if _, err := env.Engine.RequestChanges(env.Ctx, "p1", "more contrast", "biz"); err != nil {
			t.Fatalf("request changes: %v", err)
		}
		env.passGate(t, "p1")
		state, err = env.Engine.ApproveMilestone(env.Ctx, "p1", "biz")
		if err != nil {
			t.Fatalf("approve milestone %d: %v", i, err)
		}
		if !state.Ledger.Released.Equal(decimal.RequireFromString(w)) {
			t.Fatalf("after milestone %d released %s, want %s", i, state.Ledger.Released, w)
		}
	}
	if state.Project.Status != domain.StatusPendingFinalReview {
		t.Fatalf("expected pending_final_review, got %s", state.Project.Status)
	}
	if _, err := env.Engine.ApproveFinal(env.Ctx, "p1", "biz"); !errors.Is(err, domain.ErrGateNotPassed) {
		t.Fatalf("expected gate_not_passed, got %v", err)
	}
	env.passGate(t, "p1")
	state, err = env.Engine.ApproveFinal(env.Ctx, "p1", "biz")
	if err != nil {
		t.Fatalf("approve final: %v", err)
	}
	if state.Project.Status != domain.StatusCompleted || !state.Ledger.Sealed || !state.Ledger.Held.IsZero() {
		t.Fatalf("unexpected final state %+v %+v", state.Project, state.Ledger)
	}

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "p1", Type: "escrow.released"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("expected 3 release events, got %d", len(evts))
	}
}

func TestApproveFinalBeforeMilestonesFails(t *testing.T) {
	env := newTestEnv(t)
	env.liveProject(t, "p1", "250", "standard")
	if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", "team-a", "", "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.SelectTeam(env.Ctx, "p1", "team-a", "biz"); err != nil {
		t.Fatalf("select: %v", err)
	}
	_, err := env.Engine.ApproveFinal(env.Ctx, "p1", "biz")
	if kind, _ := domain.KindOf(err); kind != domain.KindInvalidState {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestRejectedTransitionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.liveProject(t, "p1", "100", "standard")
	if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", "team-a", "", "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.SelectTeam(env.Ctx, "p1", "team-a", "biz"); err != nil {
		t.Fatalf("select: %v", err)
	}
	before, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "p1", Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveMilestone(env.Ctx, "p1", "biz"); !errors.Is(err, domain.ErrGateNotPassed) {
		t.Fatalf("expected gate_not_passed, got %v", err)
	}
	if _, err := env.Engine.PassGate(env.Ctx, "p1", "biz"); !errors.Is(err, domain.ErrChecklistIncomplete) {
		t.Fatalf("expected checklist_incomplete, got %v", err)
	}
	after, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "p1", Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("rejected transitions appended events: %d -> %d", len(before), len(after))
	}
	state, err := env.Engine.GetProjectState(env.Ctx, "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Ledger.Entries) != 0 {
		t.Fatalf("ledger written: %+v", state.Ledger.Entries)
	}
}

func TestConcurrentSelectionPicksExactlyOne(t *testing.T) {
	env := newTestEnv(t)
	env.liveProject(t, "p1", "100", "standard")
	teams := []string{"t1", "t2", "t3", "t4", "t5"}
	for _, team := range teams {
		if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", team, "", team); err != nil {
			t.Fatalf("apply %s: %v", team, err)
		}
	}
	var (
		wg      sync.WaitGroup
		success int64
	)
	for _, team := range teams {
		wg.Add(1)
		go func(team string) {
			defer wg.Done()
			if _, err := env.Engine.SelectTeam(env.Ctx, "p1", team, "biz"); err == nil {
				atomic.AddInt64(&success, 1)
			} else if !errors.Is(err, domain.ErrAlreadySelected) {
				t.Errorf("select %s: unexpected error %v", team, err)
			}
		}(team)
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("expected exactly one selection, got %d", success)
	}
	apps, err := env.Engine.ListApplications(env.Ctx, "p1", "submitted_at")
	if err != nil {
		t.Fatal(err)
	}
	selected := 0
	for _, a := range apps {
		switch a.Status {
		case domain.ApplicationSelected:
			selected++
		case domain.ApplicationRejected:
		default:
			t.Fatalf("application %s left %s", a.TeamID, a.Status)
		}
	}
	if selected != 1 {
		t.Fatalf("expected one selected application, got %d", selected)
	}
}

func TestCancelMarksRefundable(t *testing.T) {
	env := newTestEnv(t)
	env.liveProject(t, "p1", "100", "standard")
	if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", "team-a", "", "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.SelectTeam(env.Ctx, "p1", "team-a", "biz"); err != nil {
		t.Fatalf("select: %v", err)
	}
	env.passGate(t, "p1")
	if _, err := env.Engine.ApproveMilestone(env.Ctx, "p1", "biz"); err != nil {
		t.Fatalf("approve milestone: %v", err)
	}
	state, err := env.Engine.Cancel(env.Ctx, "p1", "scope changed", "biz")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if state.Project.Status != domain.StatusCancelled || state.Project.CancelReason != "scope changed" {
		t.Fatalf("unexpected project %+v", state.Project)
	}
	if !state.Ledger.Refundable || !state.Ledger.Released.Equal(decimal.NewFromInt(25)) || !state.Ledger.Held.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("unexpected ledger %+v", state.Ledger)
	}
	if _, err := env.Engine.Cancel(env.Ctx, "p1", "again", "biz"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p1", Title: "x", Budget: decimal.NewFromInt(10), Schedule: "nope"})
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected invalid_schedule, got %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		ID:     "p1",
		Title:  "x",
		Budget: decimal.NewFromInt(10),
		Plan:   []domain.MilestoneDefinition{{Title: "a", ReleasePercentage: 60}, {Title: "b", ReleasePercentage: 30}},
	})
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected invalid_schedule for bad plan, got %v", err)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p1", Title: "x", Budget: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p1", Title: "x", Budget: decimal.NewFromInt(10)})
	if !errors.Is(err, domain.ErrProjectExists) {
		t.Fatalf("expected project_exists, got %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, "missing", "biz"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected project_not_found, got %v", err)
	}
}

func TestRegisterTeamValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterTeam(env.Ctx, domain.Team{ID: "t1", Name: "x", Rating: 7}, "admin"); !errors.Is(err, domain.ErrInvalidTeam) {
		t.Fatalf("expected invalid_team, got %v", err)
	}
	if _, err := env.Engine.RegisterTeam(env.Ctx, domain.Team{ID: "t1", Name: "x", Reliability: 0.8}, "admin"); err != nil {
		t.Fatalf("register: %v", err)
	}
	teams, err := env.Engine.ListTeams(env.Ctx)
	if err != nil || len(teams) != 1 {
		t.Fatalf("list teams: %v %+v", err, teams)
	}
}

func TestProjectGaugeCountsEveryProject(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		env.liveProject(t, id, "100", "")
	}
	if _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		ID: "p4", Title: "Draft", Budget: decimal.NewFromInt(10), ActorID: "biz",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	page, err := env.Engine.ListProjects(env.Ctx, repo.ProjectFilters{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected one project on the page, got %d", len(page))
	}

	body := scrape(t, env.Engine.Metrics)
	for _, want := range []string{`campusworks_projects{status="live"} 3`, `campusworks_projects{status="draft"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}

	if _, err := env.Engine.Cancel(env.Ctx, "p1", "", "biz"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	body = scrape(t, env.Engine.Metrics)
	for _, want := range []string{`campusworks_projects{status="live"} 2`, `campusworks_projects{status="cancelled"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestChangeRequestLoggedOnlyWhenStored(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.Engine.Log = log.New(&buf)
	env.liveProject(t, "p1", "100", "")
	if _, err := env.Engine.SubmitApplication(env.Ctx, "p1", "team-a", "", "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.SelectTeam(env.Ctx, "p1", "team-a", "biz"); err != nil {
		t.Fatalf("select: %v", err)
	}

	if _, err := env.Engine.RequestChanges(env.Ctx, "p1", "bigger logo", "biz"); err != nil {
		t.Fatalf("request changes: %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "p1", Type: "gate.changes_requested"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || strings.Count(buf.String(), "changes requested") != 1 {
		t.Fatalf("expected one stored and logged change request, events=%d log:\n%s", len(evts), buf.String())
	}

	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.RequestChanges(env.Ctx, "p1", "too late", "biz"); !errors.Is(err, domain.ErrRevisionWindowClosed) {
		t.Fatalf("expected revision_window_closed, got %v", err)
	}
	if n := strings.Count(buf.String(), "changes requested"); n != 1 {
		t.Fatalf("rejected change request was logged, %d entries:\n%s", n, buf.String())
	}
}
