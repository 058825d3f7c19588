package repo

import (
	"context"

	"github.com/shopspring/decimal"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const projectColumns = `p.id,p.name,p.client,p.leader_id,l.name,p.start_date,p.estimated_end_date,p.end_date,p.status,
p.budget,p.real_cost,p.country,p.category,p.description,p.created_at`

const projectFrom = ` FROM projects p LEFT JOIN persons l ON l.id=p.leader_id`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	err := s.Scan(&p.ID, &p.Name, &p.Client, &p.LeaderID, &p.LeaderName, &p.StartDate, &p.EstimatedEndDate, &p.EndDate,
		&p.Status, &p.Budget, &p.RealCost, &p.Country, &p.Category, &p.Description, &p.CreatedAt)
	return p, err
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	Status string
	Client string
	Search string
}

func (r Repo) InsertProject(ctx context.Context, q db.DBTX, p domain.Project) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO projects(name,client,leader_id,start_date,estimated_end_date,end_date,status,budget,real_cost,country,category,description,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Name, p.Client, p.LeaderID, p.StartDate, p.EstimatedEndDate, p.EndDate, p.Status, p.Budget, p.RealCost,
		p.Country, p.Category, p.Description, p.CreatedAt))
}

func (r Repo) UpdateProject(ctx context.Context, q db.DBTX, p domain.Project) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE projects SET name=?,client=?,leader_id=?,start_date=?,estimated_end_date=?,end_date=?,
status=?,budget=?,real_cost=?,country=?,category=?,description=? WHERE id=?`,
		p.Name, p.Client, p.LeaderID, p.StartDate, p.EstimatedEndDate, p.EndDate, p.Status, p.Budget, p.RealCost,
		p.Country, p.Category, p.Description, p.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// CloseProject marks the project Closed and fixes its real cost and end date.
func (r Repo) CloseProject(ctx context.Context, q db.DBTX, id int64, realCost decimal.Decimal, endDate string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE projects SET status=?,real_cost=?,end_date=? WHERE id=?`,
		domain.ProjectClosed, realCost, endDate, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteProject(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "projects", id)
}

func (r Repo) GetProject(ctx context.Context, q db.DBTX, id int64) (domain.Project, error) {
	p, err := scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectColumns+projectFrom+` WHERE p.id=?`, id))
	return p, notFoundOr(err, "get project")
}

func (r Repo) ProjectExists(ctx context.Context, q db.DBTX, id int64) (bool, error) {
	return exists(ctx, r.q(q), `SELECT 1 FROM projects WHERE id=?`, id)
}

func (r Repo) ListProjects(ctx context.Context, q db.DBTX, f ProjectFilter) ([]domain.Project, error) {
	var w where
	if f.Status != "" {
		w.add("p.status=?", f.Status)
	}
	if f.Client != "" {
		w.add("p.client=?", f.Client)
	}
	if f.Search != "" {
		w.add("(LOWER(p.name) LIKE ? OR LOWER(COALESCE(p.client,'')) LIKE ?)", likePattern(f.Search), likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+projectColumns+projectFrom+w.sql()+` ORDER BY p.start_date DESC, p.id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectClients returns the distinct non-empty client names.
func (r Repo) ProjectClients(ctx context.Context, q db.DBTX) ([]string, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT DISTINCT client FROM projects WHERE client IS NOT NULL AND client<>'' ORDER BY client`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
