package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

func (r Repo) GetParameter(ctx context.Context, q db.DBTX, key string) (domain.Parameter, error) {
	var p domain.Parameter
	err := r.q(q).QueryRowContext(ctx, `SELECT key,value,updated_at FROM parameters WHERE key=?`, key).
		Scan(&p.Key, &p.Value, &p.UpdatedAt)
	return p, notFoundOr(err, "get parameter")
}

func (r Repo) UpsertParameter(ctx context.Context, q db.DBTX, p domain.Parameter) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO parameters(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, p.Key, p.Value, p.UpdatedAt)
	return err
}

func (r Repo) ListParameters(ctx context.Context, q db.DBTX) ([]domain.Parameter, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT key,value,updated_at FROM parameters ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Parameter
	for rows.Next() {
		var p domain.Parameter
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
