package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const assignmentColumns = `a.id,a.person_id,pe.name,a.project_id,pr.name,a.sprint_id,s.name,a.profile_id,pf.name,
a.dedication_hours,a.rate,a.start_date,a.end_date,a.created_at,a.updated_at`

const assignmentFrom = ` FROM assignments a
JOIN persons pe ON pe.id=a.person_id
JOIN projects pr ON pr.id=a.project_id
LEFT JOIN sprints s ON s.id=a.sprint_id
LEFT JOIN profiles pf ON pf.id=a.profile_id`

func scanAssignment(s scanner) (domain.Assignment, error) {
	var a domain.Assignment
	err := s.Scan(&a.ID, &a.PersonID, &a.PersonName, &a.ProjectID, &a.ProjectName, &a.SprintID, &a.SprintName,
		&a.ProfileID, &a.ProfileName, &a.DedicationHours, &a.Rate, &a.StartDate, &a.EndDate, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// AssignmentFilter narrows ListAssignments. ActiveOnly and EndedOnly are
// evaluated against Today (YYYY-MM-DD).
type AssignmentFilter struct {
	PersonID   int64
	ProjectID  int64
	SprintID   int64
	ActiveOnly bool
	EndedOnly  bool
	Today      string
}

func (r Repo) InsertAssignment(ctx context.Context, q db.DBTX, a domain.Assignment) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO assignments(person_id,project_id,sprint_id,profile_id,dedication_hours,rate,start_date,end_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.PersonID, a.ProjectID, a.SprintID, a.ProfileID, a.DedicationHours, a.Rate, a.StartDate, a.EndDate, a.CreatedAt, a.UpdatedAt))
}

func (r Repo) UpdateAssignment(ctx context.Context, q db.DBTX, a domain.Assignment) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE assignments SET person_id=?,project_id=?,sprint_id=?,profile_id=?,dedication_hours=?,rate=?,
start_date=?,end_date=?,updated_at=? WHERE id=?`,
		a.PersonID, a.ProjectID, a.SprintID, a.ProfileID, a.DedicationHours, a.Rate, a.StartDate, a.EndDate, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) SetAssignmentEndDate(ctx context.Context, q db.DBTX, id int64, endDate, updatedAt string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE assignments SET end_date=?,updated_at=? WHERE id=?`, endDate, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteAssignment(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "assignments", id)
}

func (r Repo) GetAssignment(ctx context.Context, q db.DBTX, id int64) (domain.Assignment, error) {
	a, err := scanAssignment(r.q(q).QueryRowContext(ctx, `SELECT `+assignmentColumns+assignmentFrom+` WHERE a.id=?`, id))
	return a, notFoundOr(err, "get assignment")
}

func (r Repo) ListAssignments(ctx context.Context, q db.DBTX, f AssignmentFilter) ([]domain.Assignment, error) {
	var w where
	if f.PersonID != 0 {
		w.add("a.person_id=?", f.PersonID)
	}
	if f.ProjectID != 0 {
		w.add("a.project_id=?", f.ProjectID)
	}
	if f.SprintID != 0 {
		w.add("a.sprint_id=?", f.SprintID)
	}
	switch {
	case f.ActiveOnly:
		w.add("(a.end_date IS NULL OR a.end_date>=?)", f.Today)
	case f.EndedOnly:
		w.add("a.end_date IS NOT NULL AND a.end_date<?", f.Today)
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+assignmentColumns+assignmentFrom+w.sql()+` ORDER BY a.start_date DESC, a.id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountAssignments counts assignments of a project, or of a sprint when sprintID is set.
func (r Repo) CountAssignments(ctx context.Context, q db.DBTX, projectID, sprintID int64) (int, error) {
	if sprintID != 0 {
		return count(ctx, r.q(q), `SELECT COUNT(*) FROM assignments WHERE sprint_id=?`, sprintID)
	}
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM assignments WHERE project_id=?`, projectID)
}

// Workload sums dedication hours and counts distinct projects over a
// person's assignments that are active on today and whose project is not
// Closed. A non-zero excludeID leaves that assignment out of the aggregate.
func (r Repo) Workload(ctx context.Context, q db.DBTX, personID int64, today string, excludeID int64) (domain.Workload, error) {
	w := domain.Workload{PersonID: personID}
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(a.dedication_hours),0), COUNT(DISTINCT a.project_id)
FROM assignments a JOIN projects p ON p.id=a.project_id
WHERE a.person_id=? AND (a.end_date IS NULL OR a.end_date>=?) AND p.status<>? AND a.id<>?`,
		personID, today, domain.ProjectClosed, excludeID).Scan(&w.TotalHours, &w.ProjectCount)
	return w, err
}

// TopWorkload ranks persons by active hours on open projects.
func (r Repo) TopWorkload(ctx context.Context, q db.DBTX, today string, limit int) ([]domain.WorkloadRow, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT pe.id, pe.name, SUM(a.dedication_hours), COUNT(DISTINCT a.project_id)
FROM assignments a
JOIN persons pe ON pe.id=a.person_id
JOIN projects p ON p.id=a.project_id
WHERE (a.end_date IS NULL OR a.end_date>=?) AND p.status<>?
GROUP BY pe.id, pe.name
ORDER BY SUM(a.dedication_hours) DESC, pe.name
LIMIT ?`, today, domain.ProjectClosed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkloadRow
	for rows.Next() {
		var w domain.WorkloadRow
		if err := rows.Scan(&w.PersonID, &w.PersonName, &w.TotalHours, &w.ProjectCount); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
