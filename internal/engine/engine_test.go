package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"projectops/internal/config"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/repo"
	"projectops/internal/storage"
	"projectops/internal/testutil"
)

// today for every engine test
var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Conn   *sql.DB
	Op     auth.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := testutil.NewTestDB(t)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return fixedNow }
	eng.Tokens.Secret = "test-secret"
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	eng.Blobs = blobs
	return &testEnv{Engine: eng, Ctx: context.Background(), Conn: conn}
}

func (env *testEnv) person(t *testing.T, name string) domain.Person {
	t.Helper()
	p, err := env.Engine.CreatePerson(env.Ctx, env.Op, engine.PersonInput{Name: name, Role: "Developer"})
	require.NoError(t, err)
	return p
}

func (env *testEnv) project(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, env.Op, engine.ProjectInput{
		Name:             name,
		StartDate:        "2025-01-01",
		EstimatedEndDate: "2025-12-31",
		Status:           domain.ProjectActive,
		Budget:           decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	return p
}

func (env *testEnv) assign(t *testing.T, personID, projectID int64, hours float64) engine.AssignmentResult {
	t.Helper()
	res, err := env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID:        personID,
		ProjectID:       projectID,
		DedicationHours: hours,
		StartDate:       "2025-02-01",
	})
	require.NoError(t, err)
	return res
}

func (env *testEnv) workload(t *testing.T, personID int64) domain.Workload {
	t.Helper()
	w, err := env.Engine.Workload(env.Ctx, personID)
	require.NoError(t, err)
	return w
}

func (env *testEnv) events(t *testing.T, entity string) []domain.Event {
	t.Helper()
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{EntityType: entity})
	require.NoError(t, err)
	return evts
}

func detailOf(t *testing.T, evt domain.Event) map[string]any {
	t.Helper()
	require.NotNil(t, evt.DetailJSON, "event %d has no detail", evt.ID)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(*evt.DetailJSON), &m))
	return m
}

func TestRoleCatalogGatesPersonRole(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.SeedRoles(env.Ctx, env.Op, []string{"Developer", "Analyst", "Developer"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = env.Engine.CreatePerson(env.Ctx, env.Op, engine.PersonInput{Name: "Luis", Role: "Astronaut"})
	require.ErrorIs(t, err, engine.ErrValidation)

	p := env.person(t, "Luis")
	require.Equal(t, "Developer", p.Role)

	n, err = env.Engine.SeedRoles(env.Ctx, env.Op, []string{"Developer"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPersonLeaderRules(t *testing.T) {
	env := newTestEnv(t)
	lead := env.person(t, "Marta")
	p := env.person(t, "Pablo")

	_, err := env.Engine.UpdatePerson(env.Ctx, env.Op, p.ID, engine.PersonInput{Name: "Pablo", Role: "Developer", LeaderID: &p.ID})
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)

	missing := int64(999)
	_, err = env.Engine.UpdatePerson(env.Ctx, env.Op, p.ID, engine.PersonInput{Name: "Pablo", Role: "Developer", LeaderID: &missing})
	require.True(t, engine.IsNotFound(err), "got %v", err)

	updated, err := env.Engine.UpdatePerson(env.Ctx, env.Op, p.ID, engine.PersonInput{Name: "Pablo", Role: "Developer", LeaderID: &lead.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.LeaderID)
	require.Equal(t, lead.ID, *updated.LeaderID)
}

func TestPersonDeleteRejectedWhileReferenced(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	res := env.assign(t, p.ID, proj.ID, 40)

	err := env.Engine.DeletePerson(env.Ctx, env.Op, p.ID)
	var cfe engine.ConflictError
	require.ErrorAs(t, err, &cfe)
	require.EqualValues(t, 1, cfe.Details["assignments"])
	_, err = env.Engine.GetPerson(env.Ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteAssignment(env.Ctx, env.Op, res.AssignmentID))
	require.NoError(t, env.Engine.DeletePerson(env.Ctx, env.Op, p.ID))
	_, err = env.Engine.GetPerson(env.Ctx, p.ID)
	require.True(t, engine.IsNotFound(err))
}

func TestProjectDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	other := env.project(t, "Intranet")
	sprint, err := env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: proj.ID, Name: "Sprint 1", StartDate: "2025-02-01", EndDate: "2025-02-14",
	})
	require.NoError(t, err)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, SprintID: &sprint.ID, DedicationHours: 30, StartDate: "2025-02-01",
	})
	require.NoError(t, err)
	env.assign(t, p.ID, proj.ID, 20)
	kept := env.assign(t, p.ID, other.ID, 10)
	doc, err := env.Engine.UploadDocument(env.Ctx, env.Op, engine.DocumentInput{ProjectID: proj.ID, FileName: "invoice.pdf"}, stringsReader("pdf"), 3)
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteProject(env.Ctx, env.Op, proj.ID))

	left, err := env.Engine.ListAssignments(env.Ctx, engine.AssignmentQuery{PersonID: p.ID})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, kept.AssignmentID, left[0].ID)
	_, err = env.Engine.GetSprint(env.Ctx, sprint.ID)
	require.True(t, engine.IsNotFound(err))
	_, err = env.Engine.Blobs.Open(env.Ctx, doc.StorageKey)
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{EntityType: engine.EntityProjects, Kind: "delete"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	detail := detailOf(t, evts[0])
	require.EqualValues(t, 1, detail["sprints_deleted"])
	require.EqualValues(t, 2, detail["assignments_deleted"])
	require.EqualValues(t, 1, detail["documents_deleted"])
}

func TestSprintDeleteRemovesOnlyItsAssignments(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	sprint, err := env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: proj.ID, Name: "Sprint 1", StartDate: "2025-02-01", EndDate: "2025-02-14",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SprintPlanned, sprint.Status)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, SprintID: &sprint.ID, DedicationHours: 30, StartDate: "2025-02-01",
	})
	require.NoError(t, err)
	plain := env.assign(t, p.ID, proj.ID, 20)

	require.NoError(t, env.Engine.DeleteSprint(env.Ctx, env.Op, sprint.ID))

	left, err := env.Engine.ListAssignments(env.Ctx, engine.AssignmentQuery{ProjectID: proj.ID})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, plain.AssignmentID, left[0].ID)
	_, err = env.Engine.GetProject(env.Ctx, proj.ID)
	require.NoError(t, err)
}

func TestSprintRules(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t, "Portal")

	_, err := env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: proj.ID, Name: "Backwards", StartDate: "2025-02-10", EndDate: "2025-02-01",
	})
	require.ErrorIs(t, err, engine.ErrValidation)

	_, err = env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: 999, Name: "Orphan", StartDate: "2025-02-01", EndDate: "2025-02-14",
	})
	require.True(t, engine.IsNotFound(err))

	s, err := env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: proj.ID, Name: "Sprint 1", StartDate: "2025-02-01", EndDate: "2025-02-14", EstimatedCost: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	closed, err := env.Engine.CloseSprint(env.Ctx, env.Op, s.ID, decimal.NewFromInt(550))
	require.NoError(t, err)
	require.Equal(t, domain.SprintClosed, closed.Status)
	require.True(t, closed.RealCost.Valid)

	_, err = env.Engine.CloseSprint(env.Ctx, env.Op, s.ID, decimal.NewFromInt(600))
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestProfileDeleteRejectedWhileReferenced(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	prof, err := env.Engine.CreateProfile(env.Ctx, env.Op, engine.ProfileInput{
		Name: "Senior", HourlyRate: decimal.NewNullDecimal(decimal.NewFromInt(50)),
	})
	require.NoError(t, err)
	require.True(t, prof.Active)

	_, err = env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, ProfileID: &prof.ID, DedicationHours: 10, StartDate: "2025-02-01",
	})
	require.NoError(t, err)

	err = env.Engine.DeleteProfile(env.Ctx, env.Op, prof.ID)
	require.ErrorIs(t, err, engine.ErrConflict)

	_, err = env.Engine.CreateProfile(env.Ctx, env.Op, engine.ProfileInput{Name: "Senior"})
	require.ErrorIs(t, err, engine.ErrConflict)

	require.NoError(t, env.Engine.SetProfileActive(env.Ctx, env.Op, prof.ID, false))
	active, err := env.Engine.ListActiveProfiles(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestParameters(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.SetParameter(env.Ctx, env.Op, "overload_projects_threshold", "many")
	require.ErrorIs(t, err, engine.ErrValidation)

	p, err := env.Engine.SetParameter(env.Ctx, env.Op, " overload_projects_threshold ", "6")
	require.NoError(t, err)
	require.Equal(t, "OVERLOAD_PROJECTS_THRESHOLD", p.Key)

	n, err := env.Engine.ImportParameters(env.Ctx, env.Op, map[string]string{
		"OVERLOAD_PROJECTS_THRESHOLD": "4",
		"DEVIATION_AMBER":             "0.15",
	}, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	params, err := env.Engine.ListParameters(env.Ctx)
	require.NoError(t, err)
	values := map[string]string{}
	for _, p := range params {
		values[p.Key] = p.Value
	}
	require.Equal(t, "6", values["OVERLOAD_PROJECTS_THRESHOLD"])
	require.Equal(t, "0.15", values["DEVIATION_AMBER"])

	evts := env.events(t, engine.EntityParameters)
	require.Len(t, evts, 2)
	require.Nil(t, evts[0].ActorID)
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t, "Portal")
	amount := decimal.NewNullDecimal(decimal.RequireFromString("120.50"))

	doc, err := env.Engine.UploadDocument(env.Ctx, env.Op, engine.DocumentInput{
		ProjectID: proj.ID, FileName: "../../etc/Invoice.PDF", Amount: amount,
	}, stringsReader("%PDF-1.4"), 8)
	require.NoError(t, err)
	require.Equal(t, "Invoice.PDF", doc.FileName)
	require.Contains(t, doc.StorageKey, fmt.Sprintf("projects/%d/", proj.ID))
	require.NotNil(t, doc.SizeBytes)
	require.EqualValues(t, 8, *doc.SizeBytes)

	_, rc, err := env.Engine.OpenDocument(env.Ctx, doc.ID)
	require.NoError(t, err)
	rc.Close()

	n, err := env.Engine.CountDocuments(env.Ctx, proj.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = env.Engine.UploadDocument(env.Ctx, env.Op, engine.DocumentInput{ProjectID: 999, FileName: "x.txt"}, stringsReader("x"), 1)
	require.True(t, engine.IsNotFound(err))

	require.NoError(t, env.Engine.DeleteDocument(env.Ctx, env.Op, doc.ID))
	_, err = env.Engine.Blobs.Open(env.Ctx, doc.StorageKey)
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	noStore := env.Engine
	noStore.Blobs = nil
	_, err = noStore.UploadDocument(env.Ctx, env.Op, engine.DocumentInput{ProjectID: proj.ID, FileName: "x.txt"}, stringsReader("x"), 1)
	require.ErrorIs(t, err, engine.ErrNoBlobStore)
}

func ptr[T any](v T) *T { return &v }

func decimalFromInt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func eventKind(entity, kind string) repo.EventFilter {
	return repo.EventFilter{EntityType: entity, Kind: kind}
}
