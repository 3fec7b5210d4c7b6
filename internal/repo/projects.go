package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"campusworks/internal/domain"
)

const projectColumns = `id,COALESCE(business_id,''),title,COALESCE(description,''),budget,COALESCE(timeline_estimate,''),required_skills_json,team_size_min,team_size_max,status,plan_json,COALESCE(selected_team_id,''),COALESCE(cancel_reason,''),created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                domain.Project
		budget, skills   string
		plan, status     string
		created, updated string
	)
	err := row.Scan(&p.ID, &p.BusinessID, &p.Title, &p.Description, &budget, &p.TimelineEstimate, &skills,
		&p.TeamSize.Min, &p.TeamSize.Max, &status, &plan, &p.SelectedTeamID, &p.CancelReason, &created, &updated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.ProjectStatus(status)
	if p.Budget, err = parseDecimal(budget); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(skills), &p.RequiredSkills); err != nil {
		return p, fmt.Errorf("project %s skills: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(plan), &p.Plan); err != nil {
		return p, fmt.Errorf("project %s plan: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, q Querier, id string) (domain.Project, error) {
	return scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ProjectExists reports whether a project with id is stored.
func (r Repo) ProjectExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	if err := r.q(q).QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountProjectsByStatus counts every project per status.
func (r Repo) CountProjectsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ProjectFilters narrows ListProjects. Empty fields match everything.
type ProjectFilters struct {
	Status     string
	BusinessID string
	Limit      int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.BusinessID != "" {
		clauses = append(clauses, "business_id=?")
		args = append(args, f.BusinessID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE %s ORDER BY created_at DESC, id LIMIT ?`, projectColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) upsertProject(ctx context.Context, q Querier, p domain.Project) error {
	skills, err := marshalJSON(p.RequiredSkills)
	if err != nil {
		return err
	}
	plan, err := marshalJSON(p.Plan)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO projects(id,business_id,title,description,budget,timeline_estimate,required_skills_json,team_size_min,team_size_max,status,plan_json,selected_team_id,cancel_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  selected_team_id=excluded.selected_team_id,
  cancel_reason=excluded.cancel_reason,
  updated_at=excluded.updated_at`,
		p.ID, nullable(p.BusinessID), p.Title, nullable(p.Description), p.Budget.String(), nullable(p.TimelineEstimate), skills,
		p.TeamSize.Min, p.TeamSize.Max, string(p.Status), plan, nullable(p.SelectedTeamID), nullable(p.CancelReason),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}
