package projectopssdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal ProjectOps read-only API client. Set either
// Email/Password (HTTP Basic) or BearerToken.
type Client struct {
	BaseURL     string
	BasePath    string
	Email       string
	Password    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Person is the API person model (money as decimal strings).
type Person struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	HourlyCost *string `json:"hourly_cost"`
	Email      *string `json:"email"`
	LeaderID   *int64  `json:"leader_id"`
	LeaderName *string `json:"leader_name"`
	Active     bool    `json:"active"`
}

type Workload struct {
	PersonID     int64   `json:"person_id"`
	TotalHours   float64 `json:"total_hours"`
	ProjectCount int     `json:"project_count"`
	LimitHours   float64 `json:"limit_hours"`
}

type Project struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Client           *string `json:"client"`
	StartDate        string  `json:"start_date"`
	EstimatedEndDate string  `json:"estimated_end_date"`
	EndDate          *string `json:"end_date"`
	Status           string  `json:"status"`
	Budget           string  `json:"budget"`
	RealCost         *string `json:"real_cost"`
}

type Sprint struct {
	ID            int64   `json:"id"`
	ProjectID     int64   `json:"project_id"`
	Name          string  `json:"name"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	EstimatedCost string  `json:"estimated_cost"`
	RealCost      *string `json:"real_cost"`
	Status        string  `json:"status"`
}

type Assignment struct {
	ID              int64   `json:"id"`
	PersonID        int64   `json:"person_id"`
	PersonName      string  `json:"person_name"`
	ProjectID       int64   `json:"project_id"`
	ProjectName     string  `json:"project_name"`
	SprintID        *int64  `json:"sprint_id"`
	ProfileID       *int64  `json:"profile_id"`
	DedicationHours float64 `json:"dedication_hours"`
	Rate            *string `json:"rate"`
	StartDate       string  `json:"start_date"`
	EndDate         *string `json:"end_date"`
}

type User struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	PersonID    *int64  `json:"person_id"`
	Active      bool    `json:"active"`
	LastLoginAt *string `json:"last_login_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	ActorID    *int64         `json:"actor_id"`
	Kind       string         `json:"kind"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Detail     map[string]any `json:"detail"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Portfolio struct {
	Projects         int     `json:"projects"`
	ActiveProjects   int     `json:"active_projects"`
	ClosedProjects   int     `json:"closed_projects"`
	EstimatedTotal   string  `json:"estimated_total"`
	RealTotal        string  `json:"real_total"`
	AverageDeviation float64 `json:"average_deviation"`
	Band             string  `json:"band"`
	Costs            []struct {
		ProjectID int64   `json:"project_id"`
		Name      string  `json:"name"`
		Deviation float64 `json:"deviation"`
		Band      string  `json:"band"`
	} `json:"costs"`
	TopWorkload []struct {
		PersonID     int64   `json:"person_id"`
		PersonName   string  `json:"person_name"`
		TotalHours   float64 `json:"total_hours"`
		ProjectCount int     `json:"project_count"`
	} `json:"top_workload"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status of an *APIError, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// PersonFilter narrows Persons. Active nil means all.
type PersonFilter struct {
	Search string
	Role   string
	Active *bool
}

func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "health", nil, nil)
}

func (c *Client) Persons(ctx context.Context, f PersonFilter) ([]Person, error) {
	q := url.Values{}
	setString(q, "search", f.Search)
	setString(q, "role", f.Role)
	if f.Active != nil {
		q.Set("active", strconv.FormatBool(*f.Active))
	}
	var resp []Person
	err := c.get(ctx, "persons", q, &resp)
	return resp, err
}

func (c *Client) Person(ctx context.Context, id int64) (Person, error) {
	var resp Person
	err := c.get(ctx, fmt.Sprintf("persons/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) Workload(ctx context.Context, personID int64) (Workload, error) {
	var resp Workload
	err := c.get(ctx, fmt.Sprintf("persons/%d/workload", personID), nil, &resp)
	return resp, err
}

func (c *Client) Projects(ctx context.Context, status, search string) ([]Project, error) {
	q := url.Values{}
	setString(q, "status", status)
	setString(q, "search", search)
	var resp []Project
	err := c.get(ctx, "projects", q, &resp)
	return resp, err
}

func (c *Client) Project(ctx context.Context, id int64) (Project, error) {
	var resp Project
	err := c.get(ctx, fmt.Sprintf("projects/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) Sprints(ctx context.Context, projectID int64) ([]Sprint, error) {
	q := url.Values{}
	if projectID > 0 {
		q.Set("project_id", strconv.FormatInt(projectID, 10))
	}
	var resp []Sprint
	err := c.get(ctx, "sprints", q, &resp)
	return resp, err
}

func (c *Client) Sprint(ctx context.Context, id int64) (Sprint, error) {
	var resp Sprint
	err := c.get(ctx, fmt.Sprintf("sprints/%d", id), nil, &resp)
	return resp, err
}

// Assignments lists assignments. active nil returns both active and ended rows.
func (c *Client) Assignments(ctx context.Context, personID, projectID int64, active *bool) ([]Assignment, error) {
	q := url.Values{}
	if personID > 0 {
		q.Set("person_id", strconv.FormatInt(personID, 10))
	}
	if projectID > 0 {
		q.Set("project_id", strconv.FormatInt(projectID, 10))
	}
	if active != nil {
		q.Set("active", strconv.FormatBool(*active))
	}
	var resp []Assignment
	err := c.get(ctx, "assignments", q, &resp)
	return resp, err
}

func (c *Client) Assignment(ctx context.Context, id int64) (Assignment, error) {
	var resp Assignment
	err := c.get(ctx, fmt.Sprintf("assignments/%d", id), nil, &resp)
	return resp, err
}

// Users requires an admin principal.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.get(ctx, "users", nil, &resp)
	return resp, err
}

// EventsPage returns one page of audit events, newest first. It requires an
// admin principal.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setString(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.get(ctx, "events", q, &resp)
	return resp, err
}

func (c *Client) Portfolio(ctx context.Context) (Portfolio, error) {
	var resp Portfolio
	err := c.get(ctx, "reports/portfolio", nil, &resp)
	return resp, err
}

// DownloadDocument streams a document's content. The caller closes it.
func (c *Client) DownloadDocument(ctx context.Context, id int64) (io.ReadCloser, error) {
	resp, err := c.send(ctx, fmt.Sprintf("documents/%d/download", id), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	resp, err := c.send(ctx, endpoint, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, endpoint string, q url.Values) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Email != "":
		req.SetBasicAuth(c.Email, c.Password)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) base() string {
	bp := c.BasePath
	if bp == "" {
		bp = "/api"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(bp, "/")
}

func setString(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
