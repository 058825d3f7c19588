package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

// EventFilter narrows ListEvents. BeforeID pages backwards from a cursor.
type EventFilter struct {
	EntityType string
	Kind       string
	EntityID   int64
	BeforeID   int64
	Limit      int
}

// ListEvents returns events newest first.
func (r Repo) ListEvents(ctx context.Context, q db.DBTX, f EventFilter) ([]domain.Event, error) {
	var w where
	if f.EntityType != "" {
		w.add("entity_type=?", f.EntityType)
	}
	if f.Kind != "" {
		w.add("kind=?", f.Kind)
	}
	if f.EntityID != 0 {
		w.add("entity_id=?", f.EntityID)
	}
	if f.BeforeID > 0 {
		w.add("id<?", f.BeforeID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args := append(w.args, limit)
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,ts,actor_id,kind,entity_type,entity_id,detail_json FROM events`+w.sql()+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.ActorID, &e.Kind, &e.EntityType, &e.EntityID, &e.DetailJSON); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountEvents(ctx context.Context, q db.DBTX, entityType string, entityID int64) (int, error) {
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM events WHERE entity_type=? AND entity_id=?`, entityType, entityID)
}
