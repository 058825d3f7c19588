package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/config"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/repo"
	"projectops/internal/storage"
	"projectops/internal/testutil"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-secret"
	viewerEmail   = "viewer@example.com"
	viewerPass    = "viewer-secret"
)

type fixture struct {
	PersonID     int64
	ProjectID    int64
	AssignmentID int64
	DocumentID   int64
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Data   fixture
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn := testutil.NewTestDB(t)
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	e.Tokens.Secret = "test-secret"
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	e.Blobs = blobs

	data := seedFixture(t, e)
	handler, err := New(Config{Engine: e, BasePath: "/api"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Data:   data,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedFixture(t *testing.T, e engine.Engine) fixture {
	t.Helper()
	ctx := context.Background()
	var op auth.Principal
	person, err := e.CreatePerson(ctx, op, engine.PersonInput{Name: "Ana Torres", Role: "Developer"})
	require.NoError(t, err)
	project, err := e.CreateProject(ctx, op, engine.ProjectInput{
		Name:             "Portal",
		StartDate:        "2025-01-01",
		EstimatedEndDate: "2025-12-31",
		Status:           domain.ProjectActive,
		Budget:           decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	res, err := e.CreateAssignment(ctx, op, engine.AssignmentInput{
		PersonID:        person.ID,
		ProjectID:       project.ID,
		DedicationHours: 120,
		StartDate:       "2025-02-01",
	})
	require.NoError(t, err)
	_, err = e.CreateUser(ctx, op, engine.UserInput{Email: adminEmail, Password: adminPassword, Role: domain.UserRoleAdmin})
	require.NoError(t, err)
	_, err = e.CreateUser(ctx, op, engine.UserInput{Email: viewerEmail, Password: viewerPass, Role: domain.UserRoleViewer})
	require.NoError(t, err)
	mime := "text/plain"
	doc, err := e.UploadDocument(ctx, op, engine.DocumentInput{ProjectID: project.ID, FileName: "notes.txt", MimeType: &mime}, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	return fixture{PersonID: person.ID, ProjectID: project.ID, AssignmentID: res.AssignmentID, DocumentID: doc.ID}
}

func basicAuth(email, password string) map[string]string {
	token := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
	return map[string]string{"Authorization": "Basic " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func TestHealthNeedsNoCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestCredentialsRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/persons", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/persons", nil, basicAuth(adminEmail, "wrong-password"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/persons", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestBasicAuthDoesNotRecordLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/persons", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var persons []PersonResponse
	require.NoError(t, json.Unmarshal(data, &persons))
	require.Len(t, persons, 1)
	assert.Equal(t, "Ana Torres", persons[0].Name)

	logins, err := srv.Engine.ListEvents(context.Background(), repo.EventFilter{Kind: "login"})
	require.NoError(t, err)
	assert.Empty(t, logins)
}

func TestAdminOnlyRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/users", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/users", nil, basicAuth(adminEmail, adminPassword))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var users []UserResponse
	require.NoError(t, json.Unmarshal(data, &users))
	assert.Len(t, users, 2)
	assert.NotContains(t, string(data), "password")
}

func TestMissingEntityReturnsEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/persons/999", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "not_found", env.Error.Code)
	assert.Contains(t, env.Error.Message, "999")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/assignments?active=maybe", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestBearerTokenWorkload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	p, err := srv.Engine.VerifyCredentials(ctx, viewerEmail, viewerPass)
	require.NoError(t, err)
	token, err := srv.Engine.IssueToken(p)
	require.NoError(t, err)

	url := fmt.Sprintf("%s/api/persons/%d/workload", srv.URL, srv.Data.PersonID)
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var w WorkloadResponse
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, srv.Data.PersonID, w.PersonID)
	assert.InDelta(t, 120, w.TotalHours, 0.001)
	assert.Equal(t, 1, w.ProjectCount)
	assert.InDelta(t, engine.MaxActiveHours, w.LimitHours, 0.001)
}

func TestAssignmentsFilteredByPerson(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	url := fmt.Sprintf("%s/api/assignments?person_id=%d&active=true", srv.URL, srv.Data.PersonID)
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var items []AssignmentResponse
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, srv.Data.AssignmentID, items[0].ID)
	assert.Equal(t, "Portal", items[0].ProjectName)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := basicAuth(adminEmail, adminPassword)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?limit=2", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)
	assert.Equal(t, fmt.Sprintf("%d", page.Items[1].ID), page.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?limit=2&cursor="+page.NextCursor, nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.NotEmpty(t, next.Items)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?entity_type=assignments", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var filtered paginatedEvents
	require.NoError(t, json.Unmarshal(data, &filtered))
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, "create", filtered.Items[0].Kind)
	assert.EqualValues(t, 120, filtered.Items[0].Detail["dedication_hours"])
	assert.Empty(t, filtered.NextCursor)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?cursor=abc", nil, headers)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPortfolioReport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/reports/portfolio", nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var p PortfolioResponse
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, 1, p.Projects)
	assert.Equal(t, 1, p.ActiveProjects)
	assert.Equal(t, "10000.00", p.EstimatedTotal)
	assert.Equal(t, engine.BandNone, p.Band)
	require.Len(t, p.TopWorkload, 1)
	assert.Equal(t, "Ana Torres", p.TopWorkload[0].PersonName)
}

func TestCORSPreflight(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/persons", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Less(t, res.StatusCode, 300)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestOpenAPIConcurrentReads(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const readers = 8
	bodies := make([][]byte, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/openapi.json", nil)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			for k, v := range basicAuth(viewerEmail, viewerPass) {
				req.Header.Set(k, v)
			}
			res, err := srv.Client().Do(req)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Errorf("request %d: status %d", i, res.StatusCode)
				return
			}
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Contains(t, doc, "components")
	for i := 1; i < readers; i++ {
		assert.Equal(t, string(bodies[0]), string(bodies[i]))
	}
}

func TestDocumentDownload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	url := fmt.Sprintf("%s/api/documents/%d/download", srv.URL, srv.Data.DocumentID)
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, basicAuth(viewerEmail, viewerPass))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "notes.txt")
}

func TestWritesAreNotRouted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/persons", map[string]any{"name": "X"}, basicAuth(adminEmail, adminPassword))
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}
