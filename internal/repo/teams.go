package repo

import (
	"context"
	"database/sql"
	"strings"

	"campusworks/internal/domain"
)

const teamColumns = `id,name,rating,past_projects,reliability,created_at,updated_at`

func scanTeam(row scanner) (domain.Team, error) {
	var (
		t                domain.Team
		created, updated string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Rating, &t.PastProjects, &t.Reliability, &created, &updated)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	return t, nil
}

// UpsertTeam stores team metadata, keeping the original creation time.
func (r Repo) UpsertTeam(ctx context.Context, q Querier, t domain.Team) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO teams(id,name,rating,past_projects,reliability,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name,
  rating=excluded.rating,
  past_projects=excluded.past_projects,
  reliability=excluded.reliability,
  updated_at=excluded.updated_at`,
		t.ID, t.Name, t.Rating, t.PastProjects, t.Reliability, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func (r Repo) GetTeam(ctx context.Context, q Querier, id string) (domain.Team, error) {
	return scanTeam(r.q(q).QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id=?`, id))
}

func (r Repo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TeamsByID loads the metadata of the given teams. Unknown ids are absent
// from the result.
func (r Repo) TeamsByID(ctx context.Context, q Querier, ids []string) (map[string]domain.Team, error) {
	res := make(map[string]domain.Team, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		res[t.ID] = t
	}
	return res, rows.Err()
}
