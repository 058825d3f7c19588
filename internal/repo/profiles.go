package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const profileColumns = `id,name,hourly_rate,valid_from,active,created_at`

func scanProfile(s scanner) (domain.Profile, error) {
	var p domain.Profile
	err := s.Scan(&p.ID, &p.Name, &p.HourlyRate, &p.ValidFrom, &p.Active, &p.CreatedAt)
	return p, err
}

// ProfileFilter narrows ListProfiles.
type ProfileFilter struct {
	Active *bool
	Search string
}

func (r Repo) InsertProfile(ctx context.Context, q db.DBTX, p domain.Profile) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO profiles(name,hourly_rate,valid_from,active,created_at) VALUES (?,?,?,?,?)`,
		p.Name, p.HourlyRate, p.ValidFrom, p.Active, p.CreatedAt))
}

func (r Repo) UpdateProfile(ctx context.Context, q db.DBTX, p domain.Profile) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE profiles SET name=?,hourly_rate=?,valid_from=?,active=? WHERE id=?`,
		p.Name, p.HourlyRate, p.ValidFrom, p.Active, p.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) SetProfileActive(ctx context.Context, q db.DBTX, id int64, active bool) error {
	return setActive(ctx, r.q(q), "profiles", id, active)
}

func (r Repo) DeleteProfile(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "profiles", id)
}

func (r Repo) GetProfile(ctx context.Context, q db.DBTX, id int64) (domain.Profile, error) {
	p, err := scanProfile(r.q(q).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
	return p, notFoundOr(err, "get profile")
}

func (r Repo) ListProfiles(ctx context.Context, q db.DBTX, f ProfileFilter) ([]domain.Profile, error) {
	var w where
	if f.Active != nil {
		w.add("active=?", *f.Active)
	}
	if f.Search != "" {
		w.add("LOWER(name) LIKE ?", likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles`+w.sql()+` ORDER BY name`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountAssignmentsByProfile(ctx context.Context, q db.DBTX, profileID int64) (int, error) {
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM assignments WHERE profile_id=?`, profileID)
}
