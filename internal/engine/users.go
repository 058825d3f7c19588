package engine

import (
	"context"
	"errors"
	"strings"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
)

type UserInput struct {
	Email    string `json:"email" validate:"required,email,max=160"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role" validate:"required,oneof=admin viewer"`
	PersonID *int64 `json:"person_id,omitempty" validate:"omitempty,gt=0"`
	Active   *bool  `json:"active,omitempty"`
}

func (in *UserInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
}

func checkPassword(pw string) error {
	if len(pw) < auth.MinPasswordLength {
		return ValidationError{Field: "password", Message: "must have at least 6 characters"}
	}
	return nil
}

func (e Engine) checkUserPerson(ctx context.Context, q db.DBTX, personID *int64) error {
	if personID == nil {
		return nil
	}
	ok, err := e.Repo.PersonExists(ctx, q, *personID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Entity: EntityPersons, ID: *personID}
	}
	return nil
}

func (e Engine) CreateUser(ctx context.Context, actor auth.Principal, in UserInput) (domain.User, error) {
	in.normalize()
	if err := validateInput(in); err != nil {
		return domain.User{}, err
	}
	if err := checkPassword(in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	var out domain.User
	err = e.withinTx(ctx, "user.create", func(ctx context.Context, q db.DBTX) error {
		if err := e.checkUserPerson(ctx, q, in.PersonID); err != nil {
			return err
		}
		u := domain.User{Email: in.Email, PasswordHash: hash, Role: in.Role, PersonID: in.PersonID, Active: true, CreatedAt: e.timestamp()}
		if in.Active != nil {
			u.Active = *in.Active
		}
		id, err := e.Repo.InsertUser(ctx, q, u)
		if err != nil {
			return mapStoreError(EntityUsers, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntityUsers, id, map[string]any{"email": u.Email, "role": u.Role}); err != nil {
			return err
		}
		out, err = e.Repo.GetUser(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	e.logMutation(ctx, "user.create", EntityUsers, out.ID, actor)
	return out, nil
}

// UpdateUser changes email, role, linked person and active flag. The password
// field is ignored; use ResetPassword.
func (e Engine) UpdateUser(ctx context.Context, actor auth.Principal, id int64, in UserInput) (domain.User, error) {
	in.normalize()
	if err := validateInput(in); err != nil {
		return domain.User{}, err
	}
	var out domain.User
	err := e.withinTx(ctx, "user.update", func(ctx context.Context, q db.DBTX) error {
		u, err := e.Repo.GetUser(ctx, q, id)
		if err != nil {
			return notFound(EntityUsers, id, err)
		}
		if err := e.checkUserPerson(ctx, q, in.PersonID); err != nil {
			return err
		}
		u.Email = in.Email
		u.Role = in.Role
		u.PersonID = in.PersonID
		if in.Active != nil {
			u.Active = *in.Active
		}
		if err := e.Repo.UpdateUser(ctx, q, u); err != nil {
			return mapStoreError(EntityUsers, err)
		}
		if err := e.audit(ctx, q, actor, events.KindUpdate, EntityUsers, id, map[string]any{"email": u.Email, "role": u.Role, "active": u.Active}); err != nil {
			return err
		}
		out, err = e.Repo.GetUser(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	e.logMutation(ctx, "user.update", EntityUsers, id, actor)
	return out, nil
}

func (e Engine) ResetPassword(ctx context.Context, actor auth.Principal, id int64, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "user.reset_password", func(ctx context.Context, q db.DBTX) error {
		if err := e.Repo.SetUserPassword(ctx, q, id, hash); err != nil {
			return notFound(EntityUsers, id, err)
		}
		return e.audit(ctx, q, actor, events.KindUpdate, EntityUsers, id, map[string]any{"password_reset": true})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "user.reset_password", EntityUsers, id, actor)
	return nil
}

func (e Engine) DeleteUser(ctx context.Context, actor auth.Principal, id int64) error {
	err := e.withinTx(ctx, "user.delete", func(ctx context.Context, q db.DBTX) error {
		u, err := e.Repo.GetUser(ctx, q, id)
		if err != nil {
			return notFound(EntityUsers, id, err)
		}
		if err := e.Repo.DeleteUser(ctx, q, id); err != nil {
			return mapStoreError(EntityUsers, err)
		}
		return e.audit(ctx, q, actor, events.KindDelete, EntityUsers, id, map[string]any{"email": u.Email})
	})
	if err != nil {
		return err
	}
	e.logMutation(ctx, "user.delete", EntityUsers, id, actor)
	return nil
}

func (e Engine) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, id)
	return u, notFound(EntityUsers, id, err)
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, nil)
}

// Authenticate checks email and password against active users. Every
// failure, including store errors on lookup, is reported as
// auth.ErrInvalidCredentials. A success stamps last_login_at and appends a
// login event.
func (e Engine) Authenticate(ctx context.Context, email, password string) (auth.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	var p auth.Principal
	err := e.withinTx(ctx, "user.login", func(ctx context.Context, q db.DBTX) error {
		u, err := e.Repo.GetActiveUserByEmail(ctx, q, email)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				e.log(ctx).WithError(err).Warn("user lookup failed")
			}
			return auth.ErrInvalidCredentials
		}
		if !auth.CheckPassword(u.PasswordHash, password) {
			return auth.ErrInvalidCredentials
		}
		if err := e.Repo.TouchUserLogin(ctx, q, u.ID, e.timestamp()); err != nil {
			return err
		}
		p = auth.PrincipalFromUser(u, "password")
		return e.audit(ctx, q, p, events.KindLogin, EntityUsers, u.ID, map[string]any{"email": u.Email})
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			e.log(ctx).WithField("email", email).Info("login rejected")
		}
		return auth.Principal{}, err
	}
	return p, nil
}

// VerifyCredentials checks email and password without recording a login.
// The read-only API uses it on every Basic-authenticated request.
func (e Engine) VerifyCredentials(ctx context.Context, email, password string) (auth.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	u, err := e.Repo.GetActiveUserByEmail(ctx, nil, email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.log(ctx).WithError(err).Warn("user lookup failed")
		}
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	return auth.PrincipalFromUser(u, "basic"), nil
}

// Logout records a logout event for an authenticated principal.
func (e Engine) Logout(ctx context.Context, actor auth.Principal) error {
	if actor.UserID == 0 {
		return nil
	}
	return e.withinTx(ctx, "user.logout", func(ctx context.Context, q db.DBTX) error {
		return e.audit(ctx, q, actor, events.KindLogout, EntityUsers, actor.UserID, nil)
	})
}

// IssueToken signs a bearer token for the principal.
func (e Engine) IssueToken(p auth.Principal) (string, error) {
	t := e.Tokens
	if t.Now == nil {
		t.Now = e.now
	}
	return t.Issue(p)
}

// ParseToken validates a bearer token.
func (e Engine) ParseToken(token string) (auth.Principal, error) {
	t := e.Tokens
	if t.Now == nil {
		t.Now = e.now
	}
	return t.Parse(token)
}
