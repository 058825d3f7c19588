package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const userColumns = `u.id,u.email,u.password_hash,u.role,u.person_id,p.name,u.active,u.last_login_at,u.created_at`

const userFrom = ` FROM users u LEFT JOIN persons p ON p.id=u.person_id`

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.PersonID, &u.PersonName, &u.Active, &u.LastLoginAt, &u.CreatedAt)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, q db.DBTX, u domain.User) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO users(email,password_hash,role,person_id,active,created_at) VALUES (?,?,?,?,?,?)`,
		u.Email, u.PasswordHash, u.Role, u.PersonID, u.Active, u.CreatedAt))
}

// UpdateUser rewrites everything but the password hash and login stamp.
func (r Repo) UpdateUser(ctx context.Context, q db.DBTX, u domain.User) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE users SET email=?,role=?,person_id=?,active=? WHERE id=?`,
		u.Email, u.Role, u.PersonID, u.Active, u.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) SetUserPassword(ctx context.Context, q db.DBTX, id int64, hash string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, hash, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) TouchUserLogin(ctx context.Context, q db.DBTX, id int64, ts string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE users SET last_login_at=? WHERE id=?`, ts, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteUser(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "users", id)
}

func (r Repo) GetUser(ctx context.Context, q db.DBTX, id int64) (domain.User, error) {
	u, err := scanUser(r.q(q).QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE u.id=?`, id))
	return u, notFoundOr(err, "get user")
}

// GetActiveUserByEmail only finds active accounts; email match is case-insensitive.
func (r Repo) GetActiveUserByEmail(ctx context.Context, q db.DBTX, email string) (domain.User, error) {
	u, err := scanUser(r.q(q).QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE LOWER(u.email)=LOWER(?) AND u.active=1`, email))
	return u, notFoundOr(err, "get user by email")
}

func (r Repo) ListUsers(ctx context.Context, q db.DBTX) ([]domain.User, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+userColumns+userFrom+` ORDER BY u.email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
