package engine

import (
	"context"
	"strings"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
)

func cleanRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := inputValidator.Var(name, "required,min=2,max=80"); err != nil {
		return "", ValidationError{Field: "name", Message: "must be 2 to 80 characters"}
	}
	return name, nil
}

func (e Engine) CreateRole(ctx context.Context, actor auth.Principal, name string) (domain.Role, error) {
	name, err := cleanRoleName(name)
	if err != nil {
		return domain.Role{}, err
	}
	role := domain.Role{Name: name, Active: true, CreatedAt: e.timestamp()}
	err = e.withinTx(ctx, "role.create", func(ctx context.Context, q db.DBTX) error {
		id, err := e.Repo.InsertRole(ctx, q, role)
		if err != nil {
			return mapStoreError(EntityRoles, err)
		}
		role.ID = id
		return e.audit(ctx, q, actor, events.KindCreate, EntityRoles, id, map[string]any{"name": name})
	})
	if err != nil {
		return domain.Role{}, err
	}
	e.logMutation(ctx, "role.create", EntityRoles, role.ID, actor)
	return role, nil
}

func (e Engine) UpdateRole(ctx context.Context, actor auth.Principal, id int64, name string, active bool) (domain.Role, error) {
	name, err := cleanRoleName(name)
	if err != nil {
		return domain.Role{}, err
	}
	var out domain.Role
	err = e.withinTx(ctx, "role.update", func(ctx context.Context, q db.DBTX) error {
		role, err := e.Repo.GetRole(ctx, q, id)
		if err != nil {
			return notFound(EntityRoles, id, err)
		}
		role.Name = name
		role.Active = active
		if err := e.Repo.UpdateRole(ctx, q, role); err != nil {
			return mapStoreError(EntityRoles, err)
		}
		out = role
		return e.audit(ctx, q, actor, events.KindUpdate, EntityRoles, id, map[string]any{"name": name, "active": active})
	})
	if err != nil {
		return domain.Role{}, err
	}
	e.logMutation(ctx, "role.update", EntityRoles, id, actor)
	return out, nil
}

func (e Engine) DeleteRole(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "role.delete", func(ctx context.Context, q db.DBTX) error {
		role, err := e.Repo.GetRole(ctx, q, id)
		if err != nil {
			return notFound(EntityRoles, id, err)
		}
		if err := e.Repo.DeleteRole(ctx, q, id); err != nil {
			return mapStoreError(EntityRoles, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityRoles, id, map[string]any{"name": role.Name})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "role.delete", EntityRoles, id, actor)
	return nil
}

func (e Engine) ListRoles(ctx context.Context, f repo.RoleFilter) ([]domain.Role, error) {
	return e.Repo.ListRoles(ctx, nil, f)
}

// ActiveRoleNames lists the names a person's principal role may take.
func (e Engine) ActiveRoleNames(ctx context.Context) ([]string, error) {
	active := true
	roles, err := e.Repo.ListRoles(ctx, nil, repo.RoleFilter{Active: &active})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// SeedRoles inserts catalog entries that do not exist yet. It writes one
// create event per inserted role.
func (e Engine) SeedRoles(ctx context.Context, actor auth.Principal, names []string) (int, error) {
	inserted := 0
	err := e.withinTx(ctx, "role.seed", func(ctx context.Context, q db.DBTX) error {
		existing, err := e.Repo.ListRoles(ctx, q, repo.RoleFilter{})
		if err != nil {
			return err
		}
		have := map[string]bool{}
		for _, r := range existing {
			have[r.Name] = true
		}
		for _, n := range names {
			name, err := cleanRoleName(n)
			if err != nil {
				return err
			}
			if have[name] {
				continue
			}
			id, err := e.Repo.InsertRole(ctx, q, domain.Role{Name: name, Active: true, CreatedAt: e.timestamp()})
			if err != nil {
				return mapStoreError(EntityRoles, err)
			}
			if err := e.audit(ctx, q, actor, events.KindCreate, EntityRoles, id, map[string]any{"name": name, "seeded": true}); err != nil {
				return err
			}
			have[name] = true
			inserted++
		}
		return nil
	})
	return inserted, err
}
