package repo

import (
	"context"

	"github.com/shopspring/decimal"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const sprintColumns = `s.id,s.project_id,p.name,s.name,s.start_date,s.end_date,s.estimated_cost,s.real_cost,s.status,s.activities,s.created_at`

const sprintFrom = ` FROM sprints s JOIN projects p ON p.id=s.project_id`

func scanSprint(s scanner) (domain.Sprint, error) {
	var sp domain.Sprint
	err := s.Scan(&sp.ID, &sp.ProjectID, &sp.ProjectName, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.EstimatedCost,
		&sp.RealCost, &sp.Status, &sp.Activities, &sp.CreatedAt)
	return sp, err
}

// SprintFilter narrows ListSprints.
type SprintFilter struct {
	ProjectID int64
	Status    string
	Search    string
}

func (r Repo) InsertSprint(ctx context.Context, q db.DBTX, s domain.Sprint) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO sprints(project_id,name,start_date,end_date,estimated_cost,real_cost,status,activities,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ProjectID, s.Name, s.StartDate, s.EndDate, s.EstimatedCost, s.RealCost, s.Status, s.Activities, s.CreatedAt))
}

func (r Repo) UpdateSprint(ctx context.Context, q db.DBTX, s domain.Sprint) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE sprints SET project_id=?,name=?,start_date=?,end_date=?,estimated_cost=?,real_cost=?,status=?,activities=? WHERE id=?`,
		s.ProjectID, s.Name, s.StartDate, s.EndDate, s.EstimatedCost, s.RealCost, s.Status, s.Activities, s.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) CloseSprint(ctx context.Context, q db.DBTX, id int64, realCost decimal.Decimal) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE sprints SET status=?,real_cost=? WHERE id=?`, domain.SprintClosed, realCost, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteSprint(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "sprints", id)
}

func (r Repo) GetSprint(ctx context.Context, q db.DBTX, id int64) (domain.Sprint, error) {
	s, err := scanSprint(r.q(q).QueryRowContext(ctx, `SELECT `+sprintColumns+sprintFrom+` WHERE s.id=?`, id))
	return s, notFoundOr(err, "get sprint")
}

func (r Repo) ListSprints(ctx context.Context, q db.DBTX, f SprintFilter) ([]domain.Sprint, error) {
	var w where
	if f.ProjectID != 0 {
		w.add("s.project_id=?", f.ProjectID)
	}
	if f.Status != "" {
		w.add("s.status=?", f.Status)
	}
	if f.Search != "" {
		w.add("LOWER(s.name) LIKE ?", likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+sprintColumns+sprintFrom+w.sql()+` ORDER BY s.start_date, s.id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSprintsByProject is used to report cascade sizes before a project delete.
func (r Repo) CountSprintsByProject(ctx context.Context, q db.DBTX, projectID int64) (int, error) {
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM sprints WHERE project_id=?`, projectID)
}
