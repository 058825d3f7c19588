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

type ProfileInput struct {
	Name       string              `json:"name" validate:"required,min=2,max=120"`
	HourlyRate decimal.NullDecimal `json:"hourly_rate"`
	ValidFrom  *string             `json:"valid_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Active     *bool               `json:"active,omitempty"`
}

func (in *ProfileInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.ValidFrom = trimPtr(in.ValidFrom)
}

func (in ProfileInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if in.HourlyRate.Valid && in.HourlyRate.Decimal.IsNegative() {
		return ValidationError{Field: "hourly_rate", Message: "must not be negative"}
	}
	return nil
}

func (e Engine) CreateProfile(ctx context.Context, actor auth.Principal, in ProfileInput) (domain.Profile, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{Name: in.Name, HourlyRate: in.HourlyRate, ValidFrom: in.ValidFrom, Active: true, CreatedAt: e.timestamp()}
	if in.Active != nil {
		p.Active = *in.Active
	}
	err := e.withinTx(ctx, "profile.create", func(ctx context.Context, q db.DBTX) error {
		id, err := e.Repo.InsertProfile(ctx, q, p)
		if err != nil {
			return mapStoreError(EntityProfiles, err)
		}
		p.ID = id
		return e.audit(ctx, q, actor, events.KindCreate, EntityProfiles, id, map[string]any{"name": p.Name, "hourly_rate": p.HourlyRate})
	})
	if err != nil {
		return domain.Profile{}, err
	}
	e.logMutation(ctx, "profile.create", EntityProfiles, p.ID, actor)
	return p, nil
}

func (e Engine) UpdateProfile(ctx context.Context, actor auth.Principal, id int64, in ProfileInput) (domain.Profile, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Profile{}, err
	}
	var out domain.Profile
	err := e.withinTx(ctx, "profile.update", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetProfile(ctx, q, id)
		if err != nil {
			return notFound(EntityProfiles, id, err)
		}
		p.Name = in.Name
		p.HourlyRate = in.HourlyRate
		p.ValidFrom = in.ValidFrom
		if in.Active != nil {
			p.Active = *in.Active
		}
		if err := e.Repo.UpdateProfile(ctx, q, p); err != nil {
			return mapStoreError(EntityProfiles, err)
		}
		out = p
		return e.audit(ctx, q, actor, events.KindUpdate, EntityProfiles, id, map[string]any{"name": p.Name, "hourly_rate": p.HourlyRate, "active": p.Active})
	})
	if err != nil {
		return domain.Profile{}, err
	}
	e.logMutation(ctx, "profile.update", EntityProfiles, id, actor)
	return out, nil
}

func (e Engine) SetProfileActive(ctx context.Context, actor auth.Principal, id int64, active bool) error {
	err := e.withinTx(ctx, "profile.set_active", func(ctx context.Context, q db.DBTX) error {
		if err := e.Repo.SetProfileActive(ctx, q, id, active); err != nil {
			return notFound(EntityProfiles, id, err)
		}
		return e.audit(ctx, q, actor, events.KindStatusChange, EntityProfiles, id, map[string]any{"active": active})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "profile.set_active", EntityProfiles, id, actor)
	return nil
}

// DeleteProfile refuses while any assignment references the profile.
func (e Engine) DeleteProfile(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "profile.delete", func(ctx context.Context, q db.DBTX) error {
		p, err := e.Repo.GetProfile(ctx, q, id)
		if err != nil {
			return notFound(EntityProfiles, id, err)
		}
		n, err := e.Repo.CountAssignmentsByProfile(ctx, q, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ConflictError{Entity: EntityProfiles, Message: "profile is used by assignments", Details: map[string]any{"assignments": n}}
		}
		if err := e.Repo.DeleteProfile(ctx, q, id); err != nil {
			return mapStoreError(EntityProfiles, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityProfiles, id, map[string]any{"name": p.Name})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "profile.delete", EntityProfiles, id, actor)
	return nil
}

func (e Engine) GetProfile(ctx context.Context, id int64) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, nil, id)
	return p, notFound(EntityProfiles, id, err)
}

func (e Engine) ListProfiles(ctx context.Context, f repo.ProfileFilter) ([]domain.Profile, error) {
	return e.Repo.ListProfiles(ctx, nil, f)
}

func (e Engine) ListActiveProfiles(ctx context.Context) ([]domain.Profile, error) {
	active := true
	return e.Repo.ListProfiles(ctx, nil, repo.ProfileFilter{Active: &active})
}
