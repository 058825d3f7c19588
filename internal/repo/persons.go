package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const personColumns = `p.id,p.name,p.role,p.hourly_cost,p.document_type,p.document_number,p.phone,p.email,
p.country,p.seniority,p.leader_id,l.name,p.valid_from,p.active,p.created_at`

const personFrom = ` FROM persons p LEFT JOIN persons l ON l.id=p.leader_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(s scanner) (domain.Person, error) {
	var p domain.Person
	err := s.Scan(&p.ID, &p.Name, &p.Role, &p.HourlyCost, &p.DocumentType, &p.DocumentNumber, &p.Phone, &p.Email,
		&p.Country, &p.Seniority, &p.LeaderID, &p.LeaderName, &p.ValidFrom, &p.Active, &p.CreatedAt)
	return p, err
}

// PersonFilter narrows ListPersons.
type PersonFilter struct {
	Role   string
	Active *bool
	Search string
}

func (r Repo) InsertPerson(ctx context.Context, q db.DBTX, p domain.Person) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO persons(name,role,hourly_cost,document_type,document_number,phone,email,country,seniority,leader_id,valid_from,active,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Name, p.Role, p.HourlyCost, p.DocumentType, p.DocumentNumber, p.Phone, p.Email, p.Country, p.Seniority,
		p.LeaderID, p.ValidFrom, p.Active, p.CreatedAt))
}

func (r Repo) UpdatePerson(ctx context.Context, q db.DBTX, p domain.Person) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE persons SET name=?,role=?,hourly_cost=?,document_type=?,document_number=?,phone=?,email=?,
country=?,seniority=?,leader_id=?,valid_from=?,active=? WHERE id=?`,
		p.Name, p.Role, p.HourlyCost, p.DocumentType, p.DocumentNumber, p.Phone, p.Email, p.Country, p.Seniority,
		p.LeaderID, p.ValidFrom, p.Active, p.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) SetPersonActive(ctx context.Context, q db.DBTX, id int64, active bool) error {
	return setActive(ctx, r.q(q), "persons", id, active)
}

func (r Repo) DeletePerson(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "persons", id)
}

func (r Repo) GetPerson(ctx context.Context, q db.DBTX, id int64) (domain.Person, error) {
	p, err := scanPerson(r.q(q).QueryRowContext(ctx, `SELECT `+personColumns+personFrom+` WHERE p.id=?`, id))
	return p, notFoundOr(err, "get person")
}

func (r Repo) PersonExists(ctx context.Context, q db.DBTX, id int64) (bool, error) {
	return exists(ctx, r.q(q), `SELECT 1 FROM persons WHERE id=?`, id)
}

func (r Repo) ListPersons(ctx context.Context, q db.DBTX, f PersonFilter) ([]domain.Person, error) {
	var w where
	if f.Role != "" {
		w.add("p.role=?", f.Role)
	}
	if f.Active != nil {
		w.add("p.active=?", *f.Active)
	}
	if f.Search != "" {
		w.add("(LOWER(p.name) LIKE ? OR LOWER(COALESCE(p.email,'')) LIKE ?)", likePattern(f.Search), likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+personColumns+personFrom+w.sql()+` ORDER BY p.name`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PersonReferences counts the rows that block deleting a person.
type PersonReferences struct {
	Assignments int `json:"assignments"`
	Users       int `json:"users"`
	LedProjects int `json:"led_projects"`
}

func (p PersonReferences) Any() bool {
	return p.Assignments > 0 || p.Users > 0 || p.LedProjects > 0
}

func (r Repo) PersonReferences(ctx context.Context, q db.DBTX, id int64) (PersonReferences, error) {
	var refs PersonReferences
	err := r.q(q).QueryRowContext(ctx, `SELECT
 (SELECT COUNT(*) FROM assignments WHERE person_id=?),
 (SELECT COUNT(*) FROM users WHERE person_id=?),
 (SELECT COUNT(*) FROM projects WHERE leader_id=?)`, id, id, id).Scan(&refs.Assignments, &refs.Users, &refs.LedProjects)
	return refs, err
}
