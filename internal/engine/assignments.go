package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/params"
	"projectops/internal/repo"
)

// AssignmentInput is a proposed assignment for create or update.
type AssignmentInput struct {
	PersonID        int64               `json:"person_id" validate:"required,gt=0"`
	ProjectID       int64               `json:"project_id" validate:"required,gt=0"`
	SprintID        *int64              `json:"sprint_id,omitempty" validate:"omitempty,gt=0"`
	ProfileID       *int64              `json:"profile_id,omitempty" validate:"omitempty,gt=0"`
	DedicationHours float64             `json:"dedication_hours" validate:"gt=0,lte=200"`
	Rate            decimal.NullDecimal `json:"rate"`
	StartDate       string              `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         *string             `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// AssignmentResult carries the written assignment and the workload it produced.
type AssignmentResult struct {
	AssignmentID    int64             `json:"assignment_id"`
	Assignment      domain.Assignment `json:"assignment"`
	CurrentHours    float64           `json:"current_hours"`
	TotalHours      float64           `json:"total_hours"`
	CurrentProjects int               `json:"current_projects"`
	ProjectCount    int               `json:"project_count"`
	Threshold       int               `json:"threshold"`
	OverProjects    bool              `json:"over_projects"`
}

func (in AssignmentInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if in.Rate.Valid && in.Rate.Decimal.IsNegative() {
		return ValidationError{Field: "rate", Message: "must not be negative"}
	}
	if in.EndDate != nil && *in.EndDate < in.StartDate {
		return ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return nil
}

// capacity is the outcome of the workload check for one proposal.
type capacity struct {
	current   domain.Workload
	total     float64
	count     int
	threshold int
	over      bool
}

// checkAssignment enforces the reference, state and ceiling rules for in.
// excludeID nets out the row being updated.
func (e Engine) checkAssignment(ctx context.Context, q db.DBTX, in AssignmentInput, excludeID int64) (capacity, error) {
	person, err := e.Repo.GetPerson(ctx, q, in.PersonID)
	if err != nil {
		return capacity{}, notFound(EntityPersons, in.PersonID, err)
	}
	if !person.Active {
		return capacity{}, InvalidStateError{Entity: EntityPersons, ID: person.ID, Reason: "person is inactive"}
	}
	project, err := e.Repo.GetProject(ctx, q, in.ProjectID)
	if err != nil {
		return capacity{}, notFound(EntityProjects, in.ProjectID, err)
	}
	if project.Status == domain.ProjectClosed {
		return capacity{}, InvalidStateError{Entity: EntityProjects, ID: project.ID, Reason: "project is closed"}
	}
	if in.SprintID != nil {
		sprint, err := e.Repo.GetSprint(ctx, q, *in.SprintID)
		if err != nil {
			return capacity{}, notFound(EntitySprints, *in.SprintID, err)
		}
		if sprint.ProjectID != project.ID {
			return capacity{}, InvalidStateError{Entity: EntitySprints, ID: sprint.ID, Reason: "sprint belongs to a different project"}
		}
	}
	if in.ProfileID != nil {
		if _, err := e.Repo.GetProfile(ctx, q, *in.ProfileID); err != nil {
			return capacity{}, notFound(EntityProfiles, *in.ProfileID, err)
		}
	}

	current, err := e.loadWorkload(ctx, q, in.PersonID, excludeID)
	if err != nil {
		return capacity{}, err
	}
	c := capacity{
		current:   current,
		total:     current.TotalHours + in.DedicationHours,
		count:     current.ProjectCount + 1,
		threshold: e.Params.Int(ctx, q, params.OverloadProjectsThreshold, params.DefaultOverloadProjectsThreshold),
	}
	if c.total > MaxActiveHours {
		e.Metrics.CapacityRejected()
		return capacity{}, CapacityExceededError{
			PersonID:     in.PersonID,
			CurrentHours: current.TotalHours,
			Requested:    in.DedicationHours,
			Limit:        MaxActiveHours,
		}
	}
	c.over = c.count > c.threshold
	return c, nil
}

func (c capacity) result(a domain.Assignment) AssignmentResult {
	return AssignmentResult{
		AssignmentID:    a.ID,
		Assignment:      a,
		CurrentHours:    c.current.TotalHours,
		TotalHours:      c.total,
		CurrentProjects: c.current.ProjectCount,
		ProjectCount:    c.count,
		Threshold:       c.threshold,
		OverProjects:    c.over,
	}
}

func assignmentDetail(a domain.Assignment) map[string]any {
	return map[string]any{
		"person_id":        a.PersonID,
		"project_id":       a.ProjectID,
		"sprint_id":        a.SprintID,
		"profile_id":       a.ProfileID,
		"dedication_hours": a.DedicationHours,
		"rate":             a.Rate,
		"start_date":       a.StartDate,
		"end_date":         a.EndDate,
	}
}

// CreateAssignment validates and inserts a new assignment. OverProjects in
// the result is advisory and never blocks the write.
func (e Engine) CreateAssignment(ctx context.Context, actor auth.Principal, in AssignmentInput) (AssignmentResult, error) {
	if err := in.validate(); err != nil {
		return AssignmentResult{}, err
	}
	var res AssignmentResult
	err := e.withinTx(ctx, "assignment.create", func(ctx context.Context, q db.DBTX) error {
		c, err := e.checkAssignment(ctx, q, in, 0)
		if err != nil {
			return err
		}
		now := e.timestamp()
		a := domain.Assignment{
			PersonID:        in.PersonID,
			ProjectID:       in.ProjectID,
			SprintID:        in.SprintID,
			ProfileID:       in.ProfileID,
			DedicationHours: in.DedicationHours,
			Rate:            in.Rate,
			StartDate:       in.StartDate,
			EndDate:         in.EndDate,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		id, err := e.Repo.InsertAssignment(ctx, q, a)
		if err != nil {
			return mapStoreError(EntityAssignments, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntityAssignments, id, assignmentDetail(a)); err != nil {
			return err
		}
		stored, err := e.Repo.GetAssignment(ctx, q, id)
		if err != nil {
			return err
		}
		res = c.result(stored)
		return nil
	})
	if err != nil {
		return AssignmentResult{}, err
	}
	e.afterAssignmentWrite(ctx, "assignment.create", actor, res)
	return res, nil
}

// UpdateAssignment re-validates the full proposal. The person's workload is
// computed without the row being updated, then the new hours are added.
func (e Engine) UpdateAssignment(ctx context.Context, actor auth.Principal, id int64, in AssignmentInput) (AssignmentResult, error) {
	if err := in.validate(); err != nil {
		return AssignmentResult{}, err
	}
	var res AssignmentResult
	err := e.withinTx(ctx, "assignment.update", func(ctx context.Context, q db.DBTX) error {
		existing, err := e.Repo.GetAssignment(ctx, q, id)
		if err != nil {
			return notFound(EntityAssignments, id, err)
		}
		c, err := e.checkAssignment(ctx, q, in, id)
		if err != nil {
			return err
		}
		a := existing
		a.PersonID = in.PersonID
		a.ProjectID = in.ProjectID
		a.SprintID = in.SprintID
		a.ProfileID = in.ProfileID
		a.DedicationHours = in.DedicationHours
		a.Rate = in.Rate
		a.StartDate = in.StartDate
		a.EndDate = in.EndDate
		a.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateAssignment(ctx, q, a); err != nil {
			return mapStoreError(EntityAssignments, err)
		}
		detail := assignmentDetail(a)
		detail["previous_dedication_hours"] = existing.DedicationHours
		if err := e.audit(ctx, q, actor, events.KindUpdate, EntityAssignments, id, detail); err != nil {
			return err
		}
		stored, err := e.Repo.GetAssignment(ctx, q, id)
		if err != nil {
			return err
		}
		res = c.result(stored)
		return nil
	})
	if err != nil {
		return AssignmentResult{}, err
	}
	e.afterAssignmentWrite(ctx, "assignment.update", actor, res)
	return res, nil
}

func (e Engine) afterAssignmentWrite(ctx context.Context, op string, actor auth.Principal, res AssignmentResult) {
	e.logMutation(ctx, op, EntityAssignments, res.AssignmentID, actor)
	if res.OverProjects {
		e.Metrics.OverProjects()
		e.log(ctx).WithFields(logrus.Fields{
			"person_id":     res.Assignment.PersonID,
			"project_count": res.ProjectCount,
			"threshold":     res.Threshold,
		}).Warn("person above overload project threshold")
	}
}

// EndAssignment sets the end date. Future dates are allowed and repeated
// calls simply overwrite the date.
func (e Engine) EndAssignment(ctx context.Context, actor auth.Principal, id int64, endDate string) (domain.Assignment, error) {
	if err := inputValidator.Var(endDate, "required,datetime=2006-01-02"); err != nil {
		return domain.Assignment{}, ValidationError{Field: "end_date", Message: "must be a date in YYYY-MM-DD form"}
	}
	var out domain.Assignment
	err := e.withinTx(ctx, "assignment.end", func(ctx context.Context, q db.DBTX) error {
		a, err := e.Repo.GetAssignment(ctx, q, id)
		if err != nil {
			return notFound(EntityAssignments, id, err)
		}
		if endDate < a.StartDate {
			return ValidationError{Field: "end_date", Message: "must not be before start_date " + a.StartDate}
		}
		if err := e.Repo.SetAssignmentEndDate(ctx, q, id, endDate, e.timestamp()); err != nil {
			return err
		}
		if err := e.audit(ctx, q, actor, events.KindEnd, EntityAssignments, id, map[string]any{"end_date": endDate}); err != nil {
			return err
		}
		out, err = e.Repo.GetAssignment(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Assignment{}, err
	}
	e.logMutation(ctx, "assignment.end", EntityAssignments, id, actor)
	return out, nil
}

// DeleteAssignment hard-deletes the row; it is always permitted for existing rows.
func (e Engine) DeleteAssignment(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "assignment.delete", func(ctx context.Context, q db.DBTX) error {
		if err := e.Repo.DeleteAssignment(ctx, q, id); err != nil {
			return notFound(EntityAssignments, id, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityAssignments, id, nil)
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "assignment.delete", EntityAssignments, id, actor)
	return nil
}

func (e Engine) GetAssignment(ctx context.Context, id int64) (domain.Assignment, error) {
	a, err := e.Repo.GetAssignment(ctx, nil, id)
	return a, notFound(EntityAssignments, id, err)
}

// AssignmentQuery is the caller-facing list filter.
type AssignmentQuery struct {
	PersonID   int64
	ProjectID  int64
	SprintID   int64
	ActiveOnly bool
	EndedOnly  bool
}

func (e Engine) ListAssignments(ctx context.Context, f AssignmentQuery) ([]domain.Assignment, error) {
	if f.ActiveOnly && f.EndedOnly {
		return nil, ValidationError{Message: "active and ended filters are mutually exclusive"}
	}
	return e.Repo.ListAssignments(ctx, nil, repo.AssignmentFilter{
		PersonID:   f.PersonID,
		ProjectID:  f.ProjectID,
		SprintID:   f.SprintID,
		ActiveOnly: f.ActiveOnly,
		EndedOnly:  f.EndedOnly,
		Today:      e.today(),
	})
}

// IsNotFound reports whether err names a missing entity.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf) || errors.Is(err, repo.ErrNotFound)
}
