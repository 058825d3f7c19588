package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"projectops/internal/domain"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// ForbiddenError indicates the caller's role does not allow the operation.
type ForbiddenError struct {
	Required string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Required)
}

// ErrInvalidCredentials covers unknown email, inactive user and wrong password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is the authorization context passed into operations. A zero
// Principal is the local operator (CLI) with no user id.
type Principal struct {
	UserID   int64
	Email    string
	Role     string
	PersonID *int64
	Source   string
}

// ActorID is the id recorded on audit rows.
func (p Principal) ActorID() *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}

func (p Principal) IsAdmin() bool {
	return p.Role == domain.UserRoleAdmin
}

// RequireAdmin returns ForbiddenError unless p is an admin.
func RequireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return ForbiddenError{Required: domain.UserRoleAdmin}
	}
	return nil
}

// PrincipalFromUser builds the context for an authenticated user.
func PrincipalFromUser(u domain.User, source string) Principal {
	return Principal{UserID: u.ID, Email: u.Email, Role: u.Role, PersonID: u.PersonID, Source: source}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// HashPassword bcrypt-hashes a password after checking its length.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Tokens issues and parses HS256 bearer tokens.
type Tokens struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue signs a token for p.
func (t Tokens) Issue(p Principal) (string, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := t.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: p.Email,
		Role:  p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(t.Secret))
}

// Parse validates a token and returns its principal.
func (t Tokens) Parse(token string) (Principal, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return []byte(t.Secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.New("subject claim must be a user id")
	}
	if c.Role != domain.UserRoleAdmin && c.Role != domain.UserRoleViewer {
		return Principal{}, fmt.Errorf("unknown role claim %q", c.Role)
	}
	return Principal{UserID: id, Email: c.Email, Role: c.Role, Source: "jwt"}, nil
}
