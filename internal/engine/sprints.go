package engine

import (
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
)

type SprintInput struct {
	ProjectID     int64           `json:"project_id" validate:"required,gt=0"`
	Name          string          `json:"name" validate:"required,min=2,max=120"`
	StartDate     string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string          `json:"end_date" validate:"required,datetime=2006-01-02"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Status        string          `json:"status,omitempty"`
	Activities    *string         `json:"activities,omitempty" validate:"omitempty,max=2000"`
}

func (in *SprintInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Activities = trimPtr(in.Activities)
	if in.Status == "" {
		in.Status = domain.SprintPlanned
	}
}

func (in SprintInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if !slices.Contains(domain.SprintStatuses, in.Status) {
		return ValidationError{Field: "status", Message: "must be one of: " + strings.Join(domain.SprintStatuses, ", ")}
	}
	if in.EndDate < in.StartDate {
		return ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	if in.EstimatedCost.IsNegative() {
		return ValidationError{Field: "estimated_cost", Message: "must not be negative"}
	}
	return nil
}

// CreateSprint requires the owning project to exist and not be Closed.
func (e Engine) CreateSprint(ctx context.Context, actor auth.Principal, in SprintInput) (domain.Sprint, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Sprint{}, err
	}
	var out domain.Sprint
	err := e.withinTx(ctx, "sprint.create", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetProject(ctx, q, in.ProjectID)
		if err != nil {
			return notFound(EntityProjects, in.ProjectID, err)
		}
		if p.Status == domain.ProjectClosed {
			return InvalidStateError{Entity: EntityProjects, ID: p.ID, Reason: "project is closed"}
		}
		s := domain.Sprint{
			ProjectID:     in.ProjectID,
			Name:          in.Name,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			EstimatedCost: in.EstimatedCost,
			Status:        in.Status,
			Activities:    in.Activities,
			CreatedAt:     e.timestamp(),
		}
		id, err := e.Repo.InsertSprint(ctx, q, s)
		if err != nil {
			return mapStoreError(EntitySprints, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntitySprints, id, map[string]any{"project_id": s.ProjectID, "name": s.Name}); err != nil {
			return err
		}
		out, err = e.Repo.GetSprint(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Sprint{}, err
	}
	e.logMutation(ctx, "sprint.create", EntitySprints, out.ID, actor)
	return out, nil
}

func (e Engine) UpdateSprint(ctx context.Context, actor auth.Principal, id int64, in SprintInput) (domain.Sprint, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Sprint{}, err
	}
	var out domain.Sprint
	err := e.withinTx(ctx, "sprint.update", func(ctx context.Context, q db.DBTX) error {
		existing, err := e.Repo.GetSprint(ctx, q, id)
		if err != nil {
			return notFound(EntitySprints, id, err)
		}
		if ok, err := e.Repo.ProjectExists(ctx, q, in.ProjectID); err != nil {
			return err
		} else if !ok {
			return NotFoundError{Entity: EntityProjects, ID: in.ProjectID}
		}
		s := existing
		s.ProjectID = in.ProjectID
		s.Name = in.Name
		s.StartDate = in.StartDate
		s.EndDate = in.EndDate
		s.EstimatedCost = in.EstimatedCost
		s.Status = in.Status
		s.Activities = in.Activities
		if err := e.Repo.UpdateSprint(ctx, q, s); err != nil {
			return mapStoreError(EntitySprints, err)
		}
		if err := e.audit(ctx, q, actor, events.KindUpdate, EntitySprints, id, map[string]any{"project_id": s.ProjectID, "name": s.Name, "status": s.Status}); err != nil {
			return err
		}
		out, err = e.Repo.GetSprint(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Sprint{}, err
	}
	e.logMutation(ctx, "sprint.update", EntitySprints, id, actor)
	return out, nil
}

func (e Engine) CloseSprint(ctx context.Context, actor auth.Principal, id int64, realCost decimal.Decimal) (domain.Sprint, error) {
	if realCost.IsNegative() {
		return domain.Sprint{}, ValidationError{Field: "real_cost", Message: "must not be negative"}
	}
	var out domain.Sprint
	err := e.withinTx(ctx, "sprint.close", func(ctx context.Context, q db.DBTX) error {
		s, err := e.Repo.GetSprint(ctx, q, id)
		if err != nil {
			return notFound(EntitySprints, id, err)
		}
		if s.Status == domain.SprintClosed {
			return InvalidStateError{Entity: EntitySprints, ID: id, Reason: "sprint is already closed"}
		}
		if err := e.Repo.CloseSprint(ctx, q, id, realCost); err != nil {
			return err
		}
		if err := e.audit(ctx, q, actor, events.KindClose, EntitySprints, id, map[string]any{"real_cost": realCost}); err != nil {
			return err
		}
		out, err = e.Repo.GetSprint(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Sprint{}, err
	}
	e.logMutation(ctx, "sprint.close", EntitySprints, id, actor)
	return out, nil
}

// DeleteSprint removes the sprint and the assignments attached to it.
func (e Engine) DeleteSprint(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "sprint.delete", func(ctx context.Context, q db.DBTX) error {
		s, err := e.Repo.GetSprint(ctx, q, id)
		if err != nil {
			return notFound(EntitySprints, id, err)
		}
		n, err := e.Repo.CountAssignments(ctx, q, s.ProjectID, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteSprint(ctx, q, id); err != nil {
			return mapStoreError(EntitySprints, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntitySprints, id, map[string]any{"project_id": s.ProjectID, "assignments_deleted": n})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "sprint.delete", EntitySprints, id, actor)
	return nil
}

func (e Engine) GetSprint(ctx context.Context, id int64) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, nil, id)
	return s, notFound(EntitySprints, id, err)
}

func (e Engine) ListSprints(ctx context.Context, f repo.SprintFilter) ([]domain.Sprint, error) {
	return e.Repo.ListSprints(ctx, nil, f)
}
