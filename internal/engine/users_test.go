package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
)

func TestUserPasswordsAreHashed(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: " Admin@Example.com ", Password: "s3cret!", Role: "ADMIN"})
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", u.Email)
	assert.Equal(t, domain.UserRoleAdmin, u.Role)
	assert.True(t, strings.HasPrefix(u.PasswordHash, "$2"), "bcrypt hash expected")
	assert.NotContains(t, u.PasswordHash, "s3cret!")

	_, err = env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "admin@example.com", Password: "another1", Role: "viewer"})
	require.ErrorIs(t, err, engine.ErrConflict)

	_, err = env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "short@example.com", Password: "123", Role: "viewer"})
	require.ErrorIs(t, err, engine.ErrValidation)

	_, err = env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "x@example.com", Password: "123456", Role: "owner"})
	require.ErrorIs(t, err, engine.ErrValidation)

	missing := int64(999)
	_, err = env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "y@example.com", Password: "123456", Role: "viewer", PersonID: &missing})
	require.True(t, engine.IsNotFound(err))
}

func TestAuthenticateRecordsLogin(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "viewer@example.com", Password: "viewer-pw", Role: "viewer"})
	require.NoError(t, err)

	_, err = env.Engine.Authenticate(env.Ctx, "viewer@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = env.Engine.Authenticate(env.Ctx, "nobody@example.com", "viewer-pw")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	p, err := env.Engine.Authenticate(env.Ctx, "viewer@example.com", "viewer-pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, "password", p.Source)
	assert.False(t, p.IsAdmin())

	logins, err := env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityUsers, "login"))
	require.NoError(t, err)
	require.Len(t, logins, 1)
	require.NotNil(t, logins[0].ActorID)
	assert.Equal(t, u.ID, *logins[0].ActorID)

	stored, err := env.Engine.GetUser(env.Ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)

	_, err = env.Engine.VerifyCredentials(env.Ctx, "viewer@example.com", "viewer-pw")
	require.NoError(t, err)
	logins, err = env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityUsers, "login"))
	require.NoError(t, err)
	assert.Len(t, logins, 1)

	require.NoError(t, env.Engine.Logout(env.Ctx, p))
	logouts, err := env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityUsers, "logout"))
	require.NoError(t, err)
	assert.Len(t, logouts, 1)
}

func TestInactiveUserCannotAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	inactive := false
	_, err := env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "off@example.com", Password: "123456", Role: "viewer", Active: &inactive})
	require.NoError(t, err)

	_, err = env.Engine.Authenticate(env.Ctx, "off@example.com", "123456")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = env.Engine.VerifyCredentials(env.Ctx, "off@example.com", "123456")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "a@example.com", Password: "first-pw", Role: "admin"})
	require.NoError(t, err)

	require.NoError(t, env.Engine.ResetPassword(env.Ctx, env.Op, u.ID, "second-pw"))
	_, err = env.Engine.VerifyCredentials(env.Ctx, "a@example.com", "first-pw")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = env.Engine.VerifyCredentials(env.Ctx, "a@example.com", "second-pw")
	require.NoError(t, err)

	err = env.Engine.ResetPassword(env.Ctx, env.Op, 999, "whatever")
	require.True(t, engine.IsNotFound(err))
}

func TestTokens(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, env.Op, engine.UserInput{Email: "a@example.com", Password: "first-pw", Role: "admin"})
	require.NoError(t, err)
	p := auth.PrincipalFromUser(u, "password")

	token, err := env.Engine.IssueToken(p)
	require.NoError(t, err)
	parsed, err := env.Engine.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, parsed.UserID)
	assert.True(t, parsed.IsAdmin())

	later := env.Engine
	later.Now = func() time.Time { return fixedNow.Add(later.Tokens.TTL + time.Minute) }
	_, err = later.ParseToken(token)
	require.Error(t, err)

	noSecret := env.Engine
	noSecret.Tokens.Secret = ""
	_, err = noSecret.IssueToken(p)
	require.Error(t, err)
}
