package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/domain"
)

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("12345")
	require.Error(t, err)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))
	assert.False(t, CheckPassword("not-a-hash", "correct horse"))
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tokens := Tokens{Secret: "s3cret", TTL: time.Hour, Now: func() time.Time { return now }}
	personID := int64(3)
	p := PrincipalFromUser(domain.User{ID: 9, Email: "a@example.com", Role: domain.UserRoleViewer, PersonID: &personID}, "password")

	token, err := tokens.Issue(p)
	require.NoError(t, err)
	got, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.UserID)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, domain.UserRoleViewer, got.Role)
	assert.Equal(t, "jwt", got.Source)

	other := tokens
	other.Secret = "different"
	_, err = other.Parse(token)
	assert.Error(t, err)

	expired := tokens
	expired.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = expired.Parse(token)
	assert.Error(t, err)

	_, err = Tokens{}.Issue(p)
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	assert.NoError(t, RequireAdmin(Principal{Role: domain.UserRoleAdmin}))
	err := RequireAdmin(Principal{Role: domain.UserRoleViewer})
	var fe ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.UserRoleAdmin, fe.Required)

	assert.Nil(t, Principal{}.ActorID())
	id := Principal{UserID: 5}.ActorID()
	require.NotNil(t, id)
	assert.Equal(t, int64(5), *id)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	ctx := WithPrincipal(context.Background(), Principal{UserID: 1, Role: domain.UserRoleAdmin})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.True(t, p.IsAdmin())
}
