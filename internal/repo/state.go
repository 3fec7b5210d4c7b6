package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"campusworks/internal/domain"
	"campusworks/internal/lifecycle"
)

// LoadState reads a project and every record it owns.
func (r Repo) LoadState(ctx context.Context, q Querier, projectID string) (*lifecycle.State, error) {
	q = r.q(q)
	p, err := r.GetProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	s := &lifecycle.State{Project: p}
	if s.Applications, err = r.ListApplications(ctx, q, projectID); err != nil {
		return nil, err
	}
	if s.Milestones, err = r.listMilestones(ctx, q, projectID); err != nil {
		return nil, err
	}
	if s.Ledger, err = r.getLedger(ctx, q, projectID); err != nil {
		return nil, err
	}
	if s.Gates, err = r.listGates(ctx, q, projectID); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveState writes s back. Ledger entries and change requests are append-only
// and never rewritten.
func (r Repo) SaveState(ctx context.Context, q Querier, s *lifecycle.State) error {
	q = r.q(q)
	if err := r.upsertProject(ctx, q, s.Project); err != nil {
		return err
	}
	for _, a := range s.Applications {
		if err := r.upsertApplication(ctx, q, a); err != nil {
			return err
		}
	}
	for _, m := range s.Milestones {
		if err := r.upsertMilestone(ctx, q, m); err != nil {
			return err
		}
	}
	if s.Ledger != nil {
		if err := r.upsertLedger(ctx, q, *s.Ledger); err != nil {
			return err
		}
	}
	for _, g := range s.Gates {
		if err := r.upsertGate(ctx, q, g); err != nil {
			return err
		}
	}
	return nil
}

func scanApplication(row scanner) (domain.Application, error) {
	var (
		a                  domain.Application
		status             string
		submitted, updated string
	)
	if err := row.Scan(&a.ProjectID, &a.TeamID, &a.Pitch, &status, &submitted, &updated); err != nil {
		return a, err
	}
	a.Status = domain.ApplicationStatus(status)
	var err error
	if a.SubmittedAt, err = parseTime(submitted); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	return a, nil
}

// ListApplications returns the applications of a project in submission order.
func (r Repo) ListApplications(ctx context.Context, q Querier, projectID string) ([]domain.Application, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT project_id,team_id,COALESCE(pitch,''),status,submitted_at,updated_at FROM applications WHERE project_id=? ORDER BY submitted_at, team_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) upsertApplication(ctx context.Context, q Querier, a domain.Application) error {
	_, err := q.ExecContext(ctx, `INSERT INTO applications(project_id,team_id,pitch,status,submitted_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(project_id,team_id) DO UPDATE SET
  pitch=excluded.pitch,
  status=excluded.status,
  submitted_at=excluded.submitted_at,
  updated_at=excluded.updated_at`,
		a.ProjectID, a.TeamID, nullable(a.Pitch), string(a.Status), formatTime(a.SubmittedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert application %s/%s: %w", a.ProjectID, a.TeamID, err)
	}
	return nil
}

func (r Repo) listMilestones(ctx context.Context, q Querier, projectID string) ([]domain.Milestone, error) {
	rows, err := q.QueryContext(ctx, `SELECT project_id,sequence_index,title,release_percentage,status,started_at,completed_at FROM milestones WHERE project_id=? ORDER BY sequence_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var (
			m                  domain.Milestone
			status             string
			started, completed sql.NullString
		)
		if err := rows.Scan(&m.ProjectID, &m.SequenceIndex, &m.Title, &m.ReleasePercentage, &status, &started, &completed); err != nil {
			return nil, err
		}
		m.Status = domain.MilestoneStatus(status)
		if m.StartedAt, err = parseNullTime(started); err != nil {
			return nil, err
		}
		if m.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) upsertMilestone(ctx context.Context, q Querier, m domain.Milestone) error {
	_, err := q.ExecContext(ctx, `INSERT INTO milestones(project_id,sequence_index,title,release_percentage,status,started_at,completed_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(project_id,sequence_index) DO UPDATE SET
  status=excluded.status,
  started_at=excluded.started_at,
  completed_at=excluded.completed_at`,
		m.ProjectID, m.SequenceIndex, m.Title, m.ReleasePercentage, string(m.Status), nullableTime(m.StartedAt), nullableTime(m.CompletedAt))
	if err != nil {
		return fmt.Errorf("upsert milestone %s/%d: %w", m.ProjectID, m.SequenceIndex, err)
	}
	return nil
}

func (r Repo) getLedger(ctx context.Context, q Querier, projectID string) (*domain.EscrowLedger, error) {
	var (
		l                  domain.EscrowLedger
		total, released    string
		schedule           string
		refundable, sealed int
		created, updated   string
	)
	err := q.QueryRowContext(ctx, `SELECT project_id,total_amount,released_amount,schedule_json,scale,refundable,sealed,created_at,updated_at FROM escrow_ledgers WHERE project_id=?`, projectID).
		Scan(&l.ProjectID, &total, &released, &schedule, &l.Scale, &refundable, &sealed, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if l.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if l.ReleasedAmount, err = parseDecimal(released); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedule), &l.Schedule); err != nil {
		return nil, fmt.Errorf("ledger %s schedule: %w", projectID, err)
	}
	l.Refundable = refundable == 1
	l.Sealed = sealed == 1
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT milestone_index,amount,released_at FROM escrow_entries WHERE project_id=? ORDER BY milestone_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	l.Entries = []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e          domain.LedgerEntry
			amount, at string
		)
		if err := rows.Scan(&e.MilestoneIndex, &amount, &at); err != nil {
			return nil, err
		}
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if e.ReleasedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		l.Entries = append(l.Entries, e)
	}
	return &l, rows.Err()
}

func (r Repo) upsertLedger(ctx context.Context, q Querier, l domain.EscrowLedger) error {
	schedule, err := marshalJSON(l.Schedule)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO escrow_ledgers(project_id,total_amount,released_amount,schedule_json,scale,refundable,sealed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET
  released_amount=excluded.released_amount,
  refundable=excluded.refundable,
  sealed=excluded.sealed,
  updated_at=excluded.updated_at`,
		l.ProjectID, l.TotalAmount.String(), l.ReleasedAmount.String(), schedule, l.Scale,
		boolInt(l.Refundable), boolInt(l.Sealed), formatTime(l.CreatedAt), formatTime(l.UpdatedAt)); err != nil {
		return fmt.Errorf("upsert ledger %s: %w", l.ProjectID, err)
	}
	for _, e := range l.Entries {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO escrow_entries(project_id,milestone_index,amount,released_at) VALUES (?,?,?,?)`,
			l.ProjectID, e.MilestoneIndex, e.Amount.String(), formatTime(e.ReleasedAt)); err != nil {
			return fmt.Errorf("append ledger entry %s/%d: %w", l.ProjectID, e.MilestoneIndex, err)
		}
	}
	return nil
}

func (r Repo) listGates(ctx context.Context, q Querier, projectID string) ([]domain.ReviewGate, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,project_id,subject,consent_given,revision_window_expires_at,passed,passed_at,COALESCE(pass_token,''),opened_at FROM review_gates WHERE project_id=? ORDER BY opened_at, rowid`, projectID)
	if err != nil {
		return nil, err
	}
	var gates []domain.ReviewGate
	for rows.Next() {
		var (
			g                 domain.ReviewGate
			consent, passed   int
			expires, passedAt sql.NullString
			opened            string
		)
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.Subject, &consent, &expires, &passed, &passedAt, &g.PassToken, &opened); err != nil {
			rows.Close()
			return nil, err
		}
		g.ConsentGiven = consent == 1
		g.Passed = passed == 1
		if g.RevisionWindowExpiresAt, err = parseNullTime(expires); err != nil {
			rows.Close()
			return nil, err
		}
		if g.PassedAt, err = parseNullTime(passedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if g.OpenedAt, err = parseTime(opened); err != nil {
			rows.Close()
			return nil, err
		}
		gates = append(gates, g)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// items and change requests are read after the gate cursor is closed;
	// the single connection cannot hold two open result sets.
	for i := range gates {
		if gates[i].Items, err = r.listGateItems(ctx, q, gates[i].ID); err != nil {
			return nil, err
		}
		if gates[i].ChangeRequests, err = r.listChangeRequests(ctx, q, gates[i].ID); err != nil {
			return nil, err
		}
	}
	return gates, nil
}

func (r Repo) listGateItems(ctx context.Context, q Querier, gateID string) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT item_id,COALESCE(label,''),checked FROM gate_items WHERE gate_id=? ORDER BY position`, gateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []domain.ChecklistItem{}
	for rows.Next() {
		var (
			it      domain.ChecklistItem
			checked int
		)
		if err := rows.Scan(&it.ID, &it.Label, &checked); err != nil {
			return nil, err
		}
		it.Checked = checked == 1
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) listChangeRequests(ctx context.Context, q Querier, gateID string) ([]domain.ChangeRequest, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,gate_id,note,actor_id,created_at FROM change_requests WHERE gate_id=? ORDER BY created_at, rowid`, gateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChangeRequest
	for rows.Next() {
		var (
			cr      domain.ChangeRequest
			created string
		)
		if err := rows.Scan(&cr.ID, &cr.GateID, &cr.Note, &cr.ActorID, &created); err != nil {
			return nil, err
		}
		if cr.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}

func (r Repo) upsertGate(ctx context.Context, q Querier, g domain.ReviewGate) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO review_gates(id,project_id,subject,consent_given,revision_window_expires_at,passed,passed_at,pass_token,opened_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  consent_given=excluded.consent_given,
  passed=excluded.passed,
  passed_at=excluded.passed_at,
  pass_token=excluded.pass_token`,
		g.ID, g.ProjectID, g.Subject, boolInt(g.ConsentGiven), nullableTime(g.RevisionWindowExpiresAt),
		boolInt(g.Passed), nullableTime(g.PassedAt), nullable(g.PassToken), formatTime(g.OpenedAt)); err != nil {
		return fmt.Errorf("upsert gate %s: %w", g.Subject, err)
	}
	for i, it := range g.Items {
		if _, err := q.ExecContext(ctx, `INSERT INTO gate_items(gate_id,item_id,label,position,checked) VALUES (?,?,?,?,?)
ON CONFLICT(gate_id,item_id) DO UPDATE SET checked=excluded.checked`,
			g.ID, it.ID, nullable(it.Label), i, boolInt(it.Checked)); err != nil {
			return fmt.Errorf("upsert gate item %s/%s: %w", g.Subject, it.ID, err)
		}
	}
	for _, cr := range g.ChangeRequests {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO change_requests(id,gate_id,note,actor_id,created_at) VALUES (?,?,?,?,?)`,
			cr.ID, g.ID, cr.Note, cr.ActorID, formatTime(cr.CreatedAt)); err != nil {
			return fmt.Errorf("append change request %s: %w", cr.ID, err)
		}
	}
	return nil
}
