package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
)

type PersonInput struct {
	Name           string              `json:"name" validate:"required,min=2,max=120"`
	Role           string              `json:"role" validate:"required,max=80"`
	HourlyCost     decimal.NullDecimal `json:"hourly_cost"`
	DocumentType   *string             `json:"document_type,omitempty" validate:"omitempty,max=40"`
	DocumentNumber *string             `json:"document_number,omitempty" validate:"omitempty,max=60"`
	Phone          *string             `json:"phone,omitempty" validate:"omitempty,max=40"`
	Email          *string             `json:"email,omitempty" validate:"omitempty,email"`
	Country        *string             `json:"country,omitempty" validate:"omitempty,max=80"`
	Seniority      *string             `json:"seniority,omitempty" validate:"omitempty,max=40"`
	LeaderID       *int64              `json:"leader_id,omitempty" validate:"omitempty,gt=0"`
	ValidFrom      *string             `json:"valid_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Active         *bool               `json:"active,omitempty"`
}

func (in *PersonInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.TrimSpace(in.Role)
	in.DocumentType = trimPtr(in.DocumentType)
	in.DocumentNumber = trimPtr(in.DocumentNumber)
	in.Phone = trimPtr(in.Phone)
	in.Email = trimPtr(in.Email)
	in.Country = trimPtr(in.Country)
	in.Seniority = trimPtr(in.Seniority)
	in.ValidFrom = trimPtr(in.ValidFrom)
}

func (in PersonInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if in.HourlyCost.Valid && in.HourlyCost.Decimal.IsNegative() {
		return ValidationError{Field: "hourly_cost", Message: "must not be negative"}
	}
	return nil
}

func (in PersonInput) apply(p domain.Person) domain.Person {
	p.Name = in.Name
	p.Role = in.Role
	p.HourlyCost = in.HourlyCost
	p.DocumentType = in.DocumentType
	p.DocumentNumber = in.DocumentNumber
	p.Phone = in.Phone
	p.Email = in.Email
	p.Country = in.Country
	p.Seniority = in.Seniority
	p.LeaderID = in.LeaderID
	p.ValidFrom = in.ValidFrom
	if in.Active != nil {
		p.Active = *in.Active
	}
	return p
}

// checkPrincipalRole requires role to be an active catalog entry when the
// catalog has any rows.
func (e Engine) checkPrincipalRole(ctx context.Context, q db.DBTX, role string) error {
	n, err := e.Repo.CountRoles(ctx, q)
	if err != nil || n == 0 {
		return err
	}
	ok, err := e.Repo.ActiveRoleExists(ctx, q, role)
	if err != nil {
		return err
	}
	if !ok {
		return ValidationError{Field: "role", Message: "is not an active role: " + role}
	}
	return nil
}

func (e Engine) checkLeader(ctx context.Context, q db.DBTX, leaderID *int64) error {
	if leaderID == nil {
		return nil
	}
	ok, err := e.Repo.PersonExists(ctx, q, *leaderID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Entity: EntityPersons, ID: *leaderID}
	}
	return nil
}

func (e Engine) CreatePerson(ctx context.Context, actor auth.Principal, in PersonInput) (domain.Person, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Person{}, err
	}
	var out domain.Person
	err := e.withinTx(ctx, "person.create", func(ctx context.Context, q db.DBTX) error {
		if err := e.checkPrincipalRole(ctx, q, in.Role); err != nil {
			return err
		}
		if err := e.checkLeader(ctx, q, in.LeaderID); err != nil {
			return err
		}
		p := in.apply(domain.Person{Active: true, CreatedAt: e.timestamp()})
		id, err := e.Repo.InsertPerson(ctx, q, p)
		if err != nil {
			return mapStoreError(EntityPersons, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntityPersons, id, map[string]any{"name": p.Name, "role": p.Role}); err != nil {
			return err
		}
		out, err = e.Repo.GetPerson(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Person{}, err
	}
	e.logMutation(ctx, "person.create", EntityPersons, out.ID, actor)
	return out, nil
}

// UpdatePerson rewrites a person. Only direct self-leadership is rejected;
// longer leader cycles are not detected.
func (e Engine) UpdatePerson(ctx context.Context, actor auth.Principal, id int64, in PersonInput) (domain.Person, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Person{}, err
	}
	if in.LeaderID != nil && *in.LeaderID == id {
		return domain.Person{}, InvalidStateError{Entity: EntityPersons, ID: id, Reason: "a person cannot be their own leader"}
	}
	var out domain.Person
	err := e.withinTx(ctx, "person.update", func(ctx context.Context, q db.DBTX) error {
		existing, err := e.Repo.GetPerson(ctx, q, id)
		if err != nil {
			return notFound(EntityPersons, id, err)
		}
		if in.Role != existing.Role {
			if err := e.checkPrincipalRole(ctx, q, in.Role); err != nil {
				return err
			}
		}
		if err := e.checkLeader(ctx, q, in.LeaderID); err != nil {
			return err
		}
		p := in.apply(existing)
		if err := e.Repo.UpdatePerson(ctx, q, p); err != nil {
			return mapStoreError(EntityPersons, err)
		}
		if err := e.audit(ctx, q, actor, events.KindUpdate, EntityPersons, id, map[string]any{"name": p.Name, "role": p.Role, "active": p.Active}); err != nil {
			return err
		}
		out, err = e.Repo.GetPerson(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.Person{}, err
	}
	e.logMutation(ctx, "person.update", EntityPersons, id, actor)
	return out, nil
}

func (e Engine) SetPersonActive(ctx context.Context, actor auth.Principal, id int64, active bool) error {
	err := e.withinTx(ctx, "person.set_active", func(ctx context.Context, q db.DBTX) error {
		if err := e.Repo.SetPersonActive(ctx, q, id, active); err != nil {
			return notFound(EntityPersons, id, err)
		}
		return e.audit(ctx, q, actor, events.KindStatusChange, EntityPersons, id, map[string]any{"active": active})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "person.set_active", EntityPersons, id, actor)
	return nil
}

// DeletePerson refuses while assignments, users or led projects reference the person.
func (e Engine) DeletePerson(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "person.delete", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetPerson(ctx, q, id)
		if err != nil {
			return notFound(EntityPersons, id, err)
		}
		refs, err := e.Repo.PersonReferences(ctx, q, id)
		if err != nil {
			return err
		}
		if refs.Any() {
			return ConflictError{
				Entity:  EntityPersons,
				Message: "person is still referenced by " + describeRefs(refs),
				Details: map[string]any{"assignments": refs.Assignments, "users": refs.Users, "led_projects": refs.LedProjects},
			}
		}
		if err := e.Repo.DeletePerson(ctx, q, id); err != nil {
			return mapStoreError(EntityPersons, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityPersons, id, map[string]any{"name": p.Name})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "person.delete", EntityPersons, id, actor)
	return nil
}

func describeRefs(refs repo.PersonReferences) string {
	var parts []string
	if refs.Assignments > 0 {
		parts = append(parts, "assignments")
	}
	if refs.Users > 0 {
		parts = append(parts, "users")
	}
	if refs.LedProjects > 0 {
		parts = append(parts, "led projects")
	}
	return strings.Join(parts, " and ")
}

func (e Engine) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	p, err := e.Repo.GetPerson(ctx, nil, id)
	return p, notFound(EntityPersons, id, err)
}

func (e Engine) ListPersons(ctx context.Context, f repo.PersonFilter) ([]domain.Person, error) {
	return e.Repo.ListPersons(ctx, nil, f)
}

// ListLeaders returns the active persons that can be picked as leaders.
func (e Engine) ListLeaders(ctx context.Context) ([]domain.Person, error) {
	active := true
	return e.Repo.ListPersons(ctx, nil, repo.PersonFilter{Active: &active})
}
