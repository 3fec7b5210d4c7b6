package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campusworks/internal/config"
	"campusworks/internal/domain"
	"campusworks/internal/events"
	"campusworks/internal/lifecycle"
	"campusworks/internal/metrics"
	"campusworks/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Log     *log.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string

	locks *projectLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newProjectLocks(),
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

var fallbackLocks = newProjectLocks()

func (e Engine) lock(projectID string) func() {
	if e.locks != nil {
		return e.locks.lock(projectID)
	}
	return fallbackLocks.lock(projectID)
}

// projectLocks hands out one mutex per project id. Entries are dropped when
// no holder or waiter remains.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*projectLock)}
}

func (p *projectLocks) lock(id string) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &projectLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}

func (e Engine) machine() lifecycle.Machine {
	cfg := e.config()
	return lifecycle.Machine{
		Policy: lifecycle.Policy{
			Scale:              cfg.Escrow.Scale,
			RevisionWindow:     cfg.Review.RevisionWindow,
			MilestoneChecklist: checklist(cfg.Review.MilestoneChecklist),
			FinalChecklist:     checklist(cfg.Review.FinalChecklist),
		},
		Now:   e.now,
		NewID: e.newID,
	}
}

func checklist(items []config.ChecklistItem) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, len(items))
	for i, it := range items {
		out[i] = domain.ChecklistItem{ID: it.ID, Label: it.Label}
	}
	return out
}

func (e Engine) rankCriterion(criterion string) (lifecycle.RankCriterion, error) {
	if strings.TrimSpace(criterion) == "" {
		criterion = e.config().Applications.DefaultRank
	}
	return lifecycle.ParseRankCriterion(criterion)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := domain.CodeOf(err); ok {
		return code
	}
	return "error"
}

// transitionFunc applies one lifecycle step to a loaded project.
type transitionFunc func(m lifecycle.Machine, s *lifecycle.State) ([]lifecycle.Effect, error)

// transition runs fn under the project's lock inside one transaction and
// returns the committed snapshot. Nothing is written when fn fails.
func (e Engine) transition(ctx context.Context, name, projectID, actorID string, fn transitionFunc) (domain.ProjectState, error) {
	unlock := e.lock(projectID)
	defer unlock()

	state, from, err := e.apply(ctx, projectID, actorID, fn)
	e.Metrics.Transition(name, outcome(err))
	if err != nil {
		if _, ok := domain.KindOf(err); ok {
			e.logger().Debug("transition rejected", "transition", name, "project_id", projectID, "actor_id", actorID, "code", outcome(err))
		} else {
			e.logger().Error("transition failed", "transition", name, "project_id", projectID, "err", err)
		}
		return domain.ProjectState{}, err
	}
	e.logger().Info("transition", "transition", name, "project_id", projectID, "from", from, "to", state.Project.Status, "actor_id", actorID)
	return state, nil
}

func (e Engine) apply(ctx context.Context, projectID, actorID string, fn transitionFunc) (domain.ProjectState, domain.ProjectStatus, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectState{}, "", err
	}
	defer tx.Rollback()

	s, err := e.Repo.LoadState(ctx, tx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ProjectState{}, "", domain.ErrProjectNotFound.Withf("%s", projectID)
		}
		return domain.ProjectState{}, "", fmt.Errorf("load project %s: %w", projectID, err)
	}
	from := s.Project.Status
	effects, err := fn(e.machine(), s)
	if err != nil {
		return domain.ProjectState{}, from, err
	}
	state, err := e.commit(ctx, tx, s, effects, actorID)
	return state, from, err
}

// commit persists s, records its effects and returns the snapshot read
// inside the same transaction.
func (e Engine) commit(ctx context.Context, tx *sql.Tx, s *lifecycle.State, effects []lifecycle.Effect, actorID string) (domain.ProjectState, error) {
	if err := e.Repo.SaveState(ctx, tx, s); err != nil {
		return domain.ProjectState{}, err
	}
	var (
		released []decimal.Decimal
		changes  []lifecycle.Effect
	)
	for _, eff := range effects {
		if _, err := e.Events.Append(ctx, tx, eff.Type, s.Project.ID, eff.EntityKind, eff.EntityID, actorID, events.EventPayload(eff.Payload)); err != nil {
			return domain.ProjectState{}, err
		}
		if eff.Type == "escrow.released" {
			if amount, ok := eff.Payload["amount"].(string); ok {
				if d, err := decimal.NewFromString(amount); err == nil {
					released = append(released, d)
				}
			}
		}
		if eff.Type == "gate.changes_requested" {
			changes = append(changes, eff)
		}
	}
	state, err := e.snapshot(ctx, tx, s, "")
	if err != nil {
		return domain.ProjectState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectState{}, err
	}
	for _, d := range released {
		e.Metrics.Released(d)
	}
	for _, eff := range changes {
		e.logger().Info("changes requested", "project_id", s.Project.ID, "gate", eff.Payload["subject"], "actor_id", actorID, "note", eff.Payload["note"])
	}
	if err := e.RefreshProjectGauge(ctx); err != nil {
		e.logger().Warn("project gauge not refreshed", "project_id", s.Project.ID, "err", err)
	}
	return state, nil
}

func (e Engine) snapshot(ctx context.Context, q repo.Querier, s *lifecycle.State, criterion string) (domain.ProjectState, error) {
	rank, err := e.rankCriterion(criterion)
	if err != nil {
		return domain.ProjectState{}, err
	}
	ids := make([]string, 0, len(s.Applications))
	for _, a := range s.Applications {
		ids = append(ids, a.TeamID)
	}
	teams, err := e.Repo.TeamsByID(ctx, q, ids)
	if err != nil {
		return domain.ProjectState{}, err
	}
	return lifecycle.Snapshot(s, teams, rank), nil
}
