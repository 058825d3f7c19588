package engine

import (
	"context"
	"database/sql"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"projectops/internal/config"
	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/logging"
	"projectops/internal/metrics"
	"projectops/internal/params"
	"projectops/internal/repo"
	"projectops/internal/storage"
)

// Entity type names recorded on audit rows.
const (
	EntityPersons     = "persons"
	EntityProjects    = "projects"
	EntitySprints     = "sprints"
	EntityProfiles    = "profiles"
	EntityAssignments = "assignments"
	EntityUsers       = "users"
	EntityDocuments   = "documents"
	EntityRoles       = "roles"
	EntityParameters  = "parameters"
)

type Engine struct {
	DB      *sql.DB
	UoW     db.UnitOfWork
	Repo    repo.Repo
	Events  events.Writer
	Params  params.Store
	Blobs   storage.BlobStore
	Tokens  auth.Tokens
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
	Config  *config.Config
	Now     func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.Discard()
	r := repo.Repo{DB: conn}
	return Engine{
		DB:     conn,
		UoW:    db.SQLUnitOfWork{DB: conn},
		Repo:   r,
		Events: events.Writer{Logger: logger},
		Params: params.Store{Repo: r, Logger: logger},
		Tokens: auth.Tokens{Secret: os.Getenv(cfg.API.JWTSecretEnv), TTL: cfg.TokenTTL()},
		Logger: logger,
		Config: cfg,
		Now:    time.Now,
	}
}

// WithLogger returns a copy of e whose components log to l.
func (e Engine) WithLogger(l *logrus.Entry) Engine {
	e.Logger = l
	e.Events.Logger = l
	e.Params.Logger = l
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() string {
	return e.now().Format(domain.DateLayout)
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log(ctx context.Context) *logrus.Entry {
	return logging.FromContext(ctx, e.Logger)
}

// withinTx runs fn in one transaction and records the operation outcome.
func (e Engine) withinTx(ctx context.Context, op string, fn func(ctx context.Context, q db.DBTX) error) (err error) {
	start := time.Now()
	defer func() { e.Metrics.Observe(op, start, err) }()
	uow := e.UoW
	if uow == nil {
		uow = db.SQLUnitOfWork{DB: e.DB}
	}
	return uow.WithinTx(ctx, fn)
}

func (e Engine) audit(ctx context.Context, q db.DBTX, actor auth.Principal, kind, entity string, id int64, detail any) error {
	return e.Events.Append(ctx, q, events.Entry{
		ActorID:    actor.ActorID(),
		Kind:       kind,
		EntityType: entity,
		EntityID:   id,
		Detail:     detail,
	})
}

func (e Engine) logMutation(ctx context.Context, op, entity string, id int64, actor auth.Principal) {
	e.log(ctx).WithFields(logrus.Fields{
		"op":     op,
		"entity": entity,
		"id":     id,
		"actor":  actor.UserID,
	}).Info("mutation committed")
}

var inputValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateInput runs struct tag validation and reports the first failure.
func validateInput(in any) error {
	err := inputValidator.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	return ValidationError{Field: fe.Field(), Message: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD form"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be an email address"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
