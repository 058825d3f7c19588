package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"projectops/internal/db"
)

// Repo is the entity store. Every method takes a db.DBTX so callers can run
// it against the pool or inside a transaction; a nil q falls back to DB.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) q(q db.DBTX) db.DBTX {
	if q != nil {
		return q
	}
	return r.DB
}

// where accumulates AND-ed predicates for list filters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func likePattern(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func exists(ctx context.Context, q db.DBTX, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func count(ctx context.Context, q db.DBTX, query string, args ...any) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func deleteByID(ctx context.Context, q db.DBTX, table string, id int64) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, table), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func setActive(ctx context.Context, q db.DBTX, table string, id int64, active bool) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET active=? WHERE id=?`, table), active, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func lastID(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
