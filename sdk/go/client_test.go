package projectopssdk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/config"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/server"
	"projectops/internal/storage"
	"projectops/internal/testutil"
)

type seeded struct {
	personID, projectID, documentID int64
}

func newClient(t *testing.T) (*Client, seeded) {
	t.Helper()
	conn := testutil.NewTestDB(t)
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	e.Tokens.Secret = "sdk-secret"
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	e.Blobs = blobs

	ctx := context.Background()
	var op auth.Principal
	person, err := e.CreatePerson(ctx, op, engine.PersonInput{Name: "Luis Vega", Role: "Analyst", HourlyCost: decimal.NewNullDecimal(decimal.RequireFromString("45.5"))})
	require.NoError(t, err)
	project, err := e.CreateProject(ctx, op, engine.ProjectInput{
		Name: "Billing", StartDate: "2025-01-01", EstimatedEndDate: "2025-06-30",
		Status: domain.ProjectActive, Budget: decimal.NewFromInt(8000),
	})
	require.NoError(t, err)
	_, err = e.CreateAssignment(ctx, op, engine.AssignmentInput{PersonID: person.ID, ProjectID: project.ID, DedicationHours: 80, StartDate: "2025-02-01"})
	require.NoError(t, err)
	_, err = e.CreateUser(ctx, op, engine.UserInput{Email: "ops@example.com", Password: "ops-secret", Role: domain.UserRoleAdmin})
	require.NoError(t, err)
	doc, err := e.UploadDocument(ctx, op, engine.DocumentInput{ProjectID: project.ID, FileName: "invoice.txt"}, strings.NewReader("total 100"), 9)
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/api"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := New(ts.URL)
	c.Email = "ops@example.com"
	c.Password = "ops-secret"
	return c, seeded{personID: person.ID, projectID: project.ID, documentID: doc.ID}
}

func TestClientReadsRoster(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	persons, err := c.Persons(ctx, PersonFilter{Search: "luis"})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	require.NotNil(t, persons[0].HourlyCost)
	assert.Equal(t, "45.50", *persons[0].HourlyCost)

	w, err := c.Workload(ctx, s.personID)
	require.NoError(t, err)
	assert.InDelta(t, 80, w.TotalHours, 0.001)
	assert.Equal(t, 1, w.ProjectCount)
	assert.InDelta(t, 500, w.LimitHours, 0.001)

	active := true
	rows, err := c.Assignments(ctx, s.personID, 0, &active)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Billing", rows[0].ProjectName)

	p, err := c.Project(ctx, s.projectID)
	require.NoError(t, err)
	assert.Equal(t, "8000.00", p.Budget)
}

func TestClientErrors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Person(ctx, 404)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Code)

	c.Password = "wrong"
	_, err = c.Persons(ctx, PersonFilter{})
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestClientEventsAndDownload(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	older, err := c.EventsPage(ctx, 50, page.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, older.Items)
	assert.Less(t, older.Items[0].ID, page.Items[1].ID)

	rc, err := c.DownloadDocument(ctx, s.documentID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "total 100", string(body))
}

func TestClientBearerToken(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	portfolio, err := c.Portfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, portfolio.Projects)
	require.Len(t, portfolio.TopWorkload, 1)
	assert.Equal(t, "Luis Vega", portfolio.TopWorkload[0].PersonName)

	c.BearerToken = "not-a-token"
	err = c.Health(ctx)
	require.NoError(t, err)
	_, err = c.Users(ctx)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}
