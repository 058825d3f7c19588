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

type ProjectInput struct {
	Name             string          `json:"name" validate:"required,min=2,max=160"`
	Client           *string         `json:"client,omitempty" validate:"omitempty,max=120"`
	LeaderID         *int64          `json:"leader_id,omitempty" validate:"omitempty,gt=0"`
	StartDate        string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EstimatedEndDate string          `json:"estimated_end_date" validate:"required,datetime=2006-01-02"`
	Status           string          `json:"status,omitempty"`
	Budget           decimal.Decimal `json:"budget"`
	Country          *string         `json:"country,omitempty" validate:"omitempty,max=80"`
	Category         *string         `json:"category,omitempty" validate:"omitempty,max=80"`
	Description      *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
}

func (in *ProjectInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Client = trimPtr(in.Client)
	in.Country = trimPtr(in.Country)
	in.Category = trimPtr(in.Category)
	in.Description = trimPtr(in.Description)
	if in.Status == "" {
		in.Status = domain.ProjectDraft
	}
}

func (in ProjectInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if !slices.Contains(domain.ProjectStatuses, in.Status) {
		return ValidationError{Field: "status", Message: "must be one of: " + strings.Join(domain.ProjectStatuses, ", ")}
	}
	if in.EstimatedEndDate < in.StartDate {
		return ValidationError{Field: "estimated_end_date", Message: "must not be before start_date"}
	}
	if in.Budget.IsNegative() {
		return ValidationError{Field: "budget", Message: "must not be negative"}
	}
	return nil
}

func (e Engine) CreateProject(ctx context.Context, actor auth.Principal, in ProjectInput) (domain.Project, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Project{}, err
	}
	if in.Status == domain.ProjectClosed {
		return domain.Project{}, ValidationError{Field: "status", Message: "a project is closed through the close operation"}
	}
	var out domain.Project
	err := e.withinTx(ctx, "project.create", func(ctx context.Context, q db.DBTX) error {
		if err := e.checkLeader(ctx, q, in.LeaderID); err != nil {
			return err
		}
		p := domain.Project{
			Name:             in.Name,
			Client:           in.Client,
			LeaderID:         in.LeaderID,
			StartDate:        in.StartDate,
			EstimatedEndDate: in.EstimatedEndDate,
			Status:           in.Status,
			Budget:           in.Budget,
			Country:          in.Country,
			Category:         in.Category,
			Description:      in.Description,
			CreatedAt:        e.timestamp(),
		}
		id, err := e.Repo.InsertProject(ctx, q, p)
		if err != nil {
			return mapStoreError(EntityProjects, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntityProjects, id, map[string]any{"name": p.Name, "status": p.Status, "budget": p.Budget}); err != nil {
			return err
		}
		out, err = e.Repo.GetProject(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.logMutation(ctx, "project.create", EntityProjects, out.ID, actor)
	return out, nil
}

// UpdateProject rewrites a project. Closed projects keep their status and
// real cost; a status change is also logged as status_change.
func (e Engine) UpdateProject(ctx context.Context, actor auth.Principal, id int64, in ProjectInput) (domain.Project, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	err := e.withinTx(ctx, "project.update", func(ctx context.Context, q db.DBTX) error {
		existing, err := e.Repo.GetProject(ctx, q, id)
		if err != nil {
			return notFound(EntityProjects, id, err)
		}
		if in.Status == domain.ProjectClosed && existing.Status != domain.ProjectClosed {
			return InvalidStateError{Entity: EntityProjects, ID: id, Reason: "use the close operation to close a project"}
		}
		if existing.Status == domain.ProjectClosed && in.Status != domain.ProjectClosed {
			return InvalidStateError{Entity: EntityProjects, ID: id, Reason: "project is closed"}
		}
		if err := e.checkLeader(ctx, q, in.LeaderID); err != nil {
			return err
		}
		p := existing
		p.Name = in.Name
		p.Client = in.Client
		p.LeaderID = in.LeaderID
		p.StartDate = in.StartDate
		p.EstimatedEndDate = in.EstimatedEndDate
		p.Status = in.Status
		p.Budget = in.Budget
		p.Country = in.Country
		p.Category = in.Category
		p.Description = in.Description
		if err := e.Repo.UpdateProject(ctx, q, p); err != nil {
			return mapStoreError(EntityProjects, err)
		}
		if err := e.audit(ctx, q, actor, events.KindUpdate, EntityProjects, id, map[string]any{"name": p.Name, "status": p.Status}); err != nil {
			return err
		}
		if existing.Status != p.Status {
			if err := e.audit(ctx, q, actor, events.KindStatusChange, EntityProjects, id, map[string]any{"from": existing.Status, "to": p.Status}); err != nil {
				return err
			}
		}
		out, err = e.Repo.GetProject(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.logMutation(ctx, "project.update", EntityProjects, id, actor)
	return out, nil
}

// CloseProject sets status Closed and fixes the real cost. endDate defaults to today.
func (e Engine) CloseProject(ctx context.Context, actor auth.Principal, id int64, realCost decimal.Decimal, endDate string) (domain.Project, error) {
	if realCost.IsNegative() {
		return domain.Project{}, ValidationError{Field: "real_cost", Message: "must not be negative"}
	}
	if endDate == "" {
		endDate = e.today()
	}
	if err := inputValidator.Var(endDate, "datetime=2006-01-02"); err != nil {
		return domain.Project{}, ValidationError{Field: "end_date", Message: "must be a date in YYYY-MM-DD form"}
	}
	var out domain.Project
	err := e.withinTx(ctx, "project.close", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetProject(ctx, q, id)
		if err != nil {
			return notFound(EntityProjects, id, err)
		}
		if p.Status == domain.ProjectClosed {
			return InvalidStateError{Entity: EntityProjects, ID: id, Reason: "project is already closed"}
		}
		if endDate < p.StartDate {
			return ValidationError{Field: "end_date", Message: "must not be before start_date " + p.StartDate}
		}
		if err := e.Repo.CloseProject(ctx, q, id, realCost, endDate); err != nil {
			return err
		}
		detail := map[string]any{"real_cost": realCost, "end_date": endDate, "previous_status": p.Status}
		if err := e.audit(ctx, q, actor, events.KindClose, EntityProjects, id, detail); err != nil {
			return err
		}
		out, err = e.Repo.GetProject(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.logMutation(ctx, "project.close", EntityProjects, id, actor)
	return out, nil
}

// DeleteProject removes the project together with its sprints, assignments
// and documents. Stored document objects are removed after commit.
func (e Engine) DeleteProject(ctx context.Context, actor auth.Principal, id int64) error {
	var keys []string
	err := e.withinTx(ctx, "project.delete", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetProject(ctx, q, id)
		if err != nil {
			return notFound(EntityProjects, id, err)
		}
		sprints, err := e.Repo.CountSprintsByProject(ctx, q, id)
		if err != nil {
			return err
		}
		assignments, err := e.Repo.CountAssignments(ctx, q, id, 0)
		if err != nil {
			return err
		}
		keys, err = e.Repo.DocumentKeysByProject(ctx, q, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteProject(ctx, q, id); err != nil {
			return mapStoreError(EntityProjects, err)
		}
		detail := map[string]any{
			"name":                p.Name,
			"sprints_deleted":     sprints,
			"assignments_deleted": assignments,
			"documents_deleted":   len(keys),
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityProjects, id, detail)
	})
	if err != nil {
		return err
	}
	e.removeBlobs(ctx, keys)
	e.logMutation(ctx, "project.delete", EntityProjects, id, actor)
	return nil
}

func (e Engine) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, nil, id)
	return p, notFound(EntityProjects, id, err)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilter) ([]domain.Project, error) {
	if f.Status != "" && !slices.Contains(domain.ProjectStatuses, f.Status) {
		return nil, ValidationError{Field: "status", Message: "must be one of: " + strings.Join(domain.ProjectStatuses, ", ")}
	}
	return e.Repo.ListProjects(ctx, nil, f)
}

// ProjectClients lists distinct client names.
func (e Engine) ProjectClients(ctx context.Context) ([]string, error) {
	return e.Repo.ProjectClients(ctx, nil)
}
