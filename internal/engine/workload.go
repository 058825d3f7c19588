package engine

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

// MaxActiveHours is the absolute ceiling on a person's active dedication.
const MaxActiveHours = 500.0

// MaxAssignmentHours caps a single assignment row.
const MaxAssignmentHours = 200.0

// loadWorkload aggregates the person's active load as of today, leaving out
// excludeID when non-zero. It always reads through q so a running
// transaction sees its own writes.
func (e Engine) loadWorkload(ctx context.Context, q db.DBTX, personID, excludeID int64) (domain.Workload, error) {
	return e.Repo.Workload(ctx, q, personID, e.today(), excludeID)
}

// Workload reports a person's current active hours and distinct project count.
func (e Engine) Workload(ctx context.Context, personID int64) (domain.Workload, error) {
	if _, err := e.Repo.GetPerson(ctx, nil, personID); err != nil {
		return domain.Workload{}, notFound(EntityPersons, personID, err)
	}
	return e.loadWorkload(ctx, e.DB, personID, 0)
}

// TopWorkload ranks persons by active hours, heaviest first.
func (e Engine) TopWorkload(ctx context.Context, limit int) ([]domain.WorkloadRow, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.Repo.TopWorkload(ctx, nil, e.today(), limit)
}
