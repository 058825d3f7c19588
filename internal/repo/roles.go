package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

// RoleFilter narrows ListRoles.
type RoleFilter struct {
	Active *bool
	Search string
}

func (r Repo) InsertRole(ctx context.Context, q db.DBTX, role domain.Role) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO roles(name,active,created_at) VALUES (?,?,?)`, role.Name, role.Active, role.CreatedAt))
}

func (r Repo) UpdateRole(ctx context.Context, q db.DBTX, role domain.Role) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE roles SET name=?,active=? WHERE id=?`, role.Name, role.Active, role.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteRole(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "roles", id)
}

func (r Repo) GetRole(ctx context.Context, q db.DBTX, id int64) (domain.Role, error) {
	var role domain.Role
	err := r.q(q).QueryRowContext(ctx, `SELECT id,name,active,created_at FROM roles WHERE id=?`, id).
		Scan(&role.ID, &role.Name, &role.Active, &role.CreatedAt)
	return role, notFoundOr(err, "get role")
}

func (r Repo) ListRoles(ctx context.Context, q db.DBTX, f RoleFilter) ([]domain.Role, error) {
	var w where
	if f.Active != nil {
		w.add("active=?", *f.Active)
	}
	if f.Search != "" {
		w.add("LOWER(name) LIKE ?", likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,name,active,created_at FROM roles`+w.sql()+` ORDER BY name`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Active, &role.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (r Repo) CountRoles(ctx context.Context, q db.DBTX) (int, error) {
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM roles`)
}

func (r Repo) ActiveRoleExists(ctx context.Context, q db.DBTX, name string) (bool, error) {
	return exists(ctx, r.q(q), `SELECT 1 FROM roles WHERE name=? AND active=1`, name)
}
