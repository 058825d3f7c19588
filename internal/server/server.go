package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/logging"
	"projectops/internal/metrics"
	"projectops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Logger   *logrus.Entry
	// Metrics, when set, is exposed on /metrics and counts requests.
	Metrics *metrics.Metrics
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"persons 7 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failing request returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the read-only query API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Engine.Logger
	}
	if logger == nil {
		logger = logging.Discard()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request parameter validation is a client error
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			list := make([]string, 0, len(errs))
			for _, e := range errs {
				list = append(list, e.Error())
			}
			details = map[string]any{"errors": list}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(requestMetrics(cfg.Metrics))
	router.Use(newAuthMiddleware(basePath, cfg.Engine))

	hcfg := huma.DefaultConfig("ProjectOps API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPersons(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerSprints(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil && cfg.Metrics.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(router), nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		fe  auth.ForbiddenError
		ve  engine.ValidationError
		nf  engine.NotFoundError
		ise engine.InvalidStateError
		ce  engine.CapacityExceededError
		cfe engine.ConflictError
	)
	switch {
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"required_role": fe.Required})
	case errors.As(err, &ve):
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"entity": nf.Entity, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &ise):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"entity": ise.Entity, "id": ise.ID})
	case errors.As(err, &ce):
		return newAPIError(http.StatusUnprocessableEntity, "capacity_exceeded", err.Error(), map[string]any{
			"person_id": ce.PersonID, "current_hours": ce.CurrentHours, "requested_hours": ce.Requested, "limit": ce.Limit,
		})
	case errors.As(err, &cfe):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), cfe.Details)
	default:
		logging.FromContext(ctx, nil).WithError(err).Error("request failed")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(base *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := base.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), entry)))
			entry.WithFields(logrus.Fields{
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("request served")
		})
	}
}

func requestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequest(route, strconv.Itoa(status))
		})
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["basicAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "basic"}
	security := []map[string][]string{{"bearerAuth": {}}, {"basicAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		if item.Get == nil {
			continue
		}
		if route == healthPath {
			item.Get.Security = []map[string][]string{}
			continue
		}
		item.Get.Security = security
	}
}

type idPath struct {
	ID int64 `path:"id" minimum:"1"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPersons(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-persons",
		Method:      http.MethodGet,
		Path:        "/persons",
		Summary:     "List persons",
	}, func(ctx context.Context, input *struct {
		Search string `query:"search"`
		Role   string `query:"role"`
		Active string `query:"active" enum:"true,false"`
	}) (*struct {
		Body []PersonResponse `json:"body"`
	}, error) {
		f := repo.PersonFilter{Search: input.Search, Role: input.Role, Active: parseBool(input.Active)}
		items, err := e.ListPersons(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []PersonResponse `json:"body"`
		}{Body: mapSlice(items, personResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person",
		Method:      http.MethodGet,
		Path:        "/persons/{id}",
		Summary:     "Get person",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body PersonResponse `json:"body"`
	}, error) {
		p, err := e.GetPerson(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body PersonResponse `json:"body"`
		}{Body: personResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person-workload",
		Method:      http.MethodGet,
		Path:        "/persons/{id}/workload",
		Summary:     "Active dedication hours and distinct open projects",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body WorkloadResponse `json:"body"`
	}, error) {
		w, err := e.Workload(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WorkloadResponse `json:"body"`
		}{Body: WorkloadResponse{PersonID: w.PersonID, TotalHours: w.TotalHours, ProjectCount: w.ProjectCount, LimitHours: engine.MaxActiveHours}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"Draft,Active,Paused,Closed"`
		Client string `query:"client"`
		Search string `query:"search"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilter{Status: input.Status, Client: input.Client, Search: input.Search})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapSlice(items, projectResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerSprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/sprints",
		Summary:     "List sprints",
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `query:"project_id"`
		Status    string `query:"status" enum:"Planned,InProgress,Closed"`
		Search    string `query:"search"`
	}) (*struct {
		Body []SprintResponse `json:"body"`
	}, error) {
		items, err := e.ListSprints(ctx, repo.SprintFilter{ProjectID: input.ProjectID, Status: input.Status, Search: input.Search})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []SprintResponse `json:"body"`
		}{Body: mapSlice(items, sprintResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/sprints/{id}",
		Summary:     "Get sprint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		s, err := e.GetSprint(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(s)}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignments",
	}, func(ctx context.Context, input *struct {
		PersonID  int64  `query:"person_id"`
		ProjectID int64  `query:"project_id"`
		SprintID  int64  `query:"sprint_id"`
		Active    string `query:"active" enum:"true,false"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		q := engine.AssignmentQuery{PersonID: input.PersonID, ProjectID: input.ProjectID, SprintID: input.SprintID}
		if active := parseBool(input.Active); active != nil {
			q.ActiveOnly = *active
			q.EndedOnly = !*active
		}
		items, err := e.ListAssignments(ctx, q)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapSlice(items, assignmentResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}",
		Summary:     "Get assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		a, err := e.GetAssignment(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		items, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapSlice(items, userResponse)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, newest first (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		EntityID   int64  `query:"entity_id"`
		Kind       string `query:"kind"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Kind:       input.Kind,
			BeforeID:   cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "portfolio-report",
		Method:      http.MethodGet,
		Path:        "/reports/portfolio",
		Summary:     "Portfolio overview with cost deviation",
	}, func(ctx context.Context, input *struct {
		Top int `query:"top" default:"10" minimum:"1" maximum:"100"`
	}) (*struct {
		Body PortfolioResponse `json:"body"`
	}, error) {
		overview, err := e.PortfolioOverview(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		costs, err := e.CostTable(ctx, repo.ProjectFilter{})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		top, err := e.TopWorkload(ctx, input.Top)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body PortfolioResponse `json:"body"`
		}{Body: portfolioResponse(overview, costs, top)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "download-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/download",
		Summary:     "Download a project document",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *idPath) (*huma.StreamResponse, error) {
		d, rc, err := e.OpenDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			defer rc.Close()
			ct := "application/octet-stream"
			if d.MimeType != nil && *d.MimeType != "" {
				ct = *d.MimeType
			}
			hctx.SetHeader("Content-Type", ct)
			hctx.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.FileName))
			if d.SizeBytes != nil {
				hctx.SetHeader("Content-Length", strconv.FormatInt(*d.SizeBytes, 10))
			}
			if _, err := io.Copy(hctx.BodyWriter(), rc); err != nil {
				logging.FromContext(ctx, nil).WithError(err).WithField("document", d.ID).Warn("document stream interrupted")
			}
		}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseBool(s string) *bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	default:
		return nil
	}
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}
