package engine

import (
	"context"

	"projectops/internal/domain"
	"projectops/internal/repo"
)

// ListEvents returns audit rows newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, nil, f)
}
