package domain

import "github.com/shopspring/decimal"

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

const (
	ProjectDraft  = "Draft"
	ProjectActive = "Active"
	ProjectPaused = "Paused"
	ProjectClosed = "Closed"
)

const (
	SprintPlanned    = "Planned"
	SprintInProgress = "InProgress"
	SprintClosed     = "Closed"
)

const (
	UserRoleAdmin  = "admin"
	UserRoleViewer = "viewer"
)

// ProjectStatuses lists the closed set of project statuses.
var ProjectStatuses = []string{ProjectDraft, ProjectActive, ProjectPaused, ProjectClosed}

// SprintStatuses lists the closed set of sprint statuses.
var SprintStatuses = []string{SprintPlanned, SprintInProgress, SprintClosed}

type Role struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type Person struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Role           string              `json:"role"`
	HourlyCost     decimal.NullDecimal `json:"hourly_cost"`
	DocumentType   *string             `json:"document_type,omitempty"`
	DocumentNumber *string             `json:"document_number,omitempty"`
	Phone          *string             `json:"phone,omitempty"`
	Email          *string             `json:"email,omitempty"`
	Country        *string             `json:"country,omitempty"`
	Seniority      *string             `json:"seniority,omitempty"`
	LeaderID       *int64              `json:"leader_id,omitempty"`
	LeaderName     *string             `json:"leader_name,omitempty"`
	ValidFrom      *string             `json:"valid_from,omitempty"`
	Active         bool                `json:"active"`
	CreatedAt      string              `json:"created_at"`
}

type Project struct {
	ID               int64               `json:"id"`
	Name             string              `json:"name"`
	Client           *string             `json:"client,omitempty"`
	LeaderID         *int64              `json:"leader_id,omitempty"`
	LeaderName       *string             `json:"leader_name,omitempty"`
	StartDate        string              `json:"start_date"`
	EstimatedEndDate string              `json:"estimated_end_date"`
	EndDate          *string             `json:"end_date,omitempty"`
	Status           string              `json:"status"`
	Budget           decimal.Decimal     `json:"budget"`
	RealCost         decimal.NullDecimal `json:"real_cost"`
	Country          *string             `json:"country,omitempty"`
	Category         *string             `json:"category,omitempty"`
	Description      *string             `json:"description,omitempty"`
	CreatedAt        string              `json:"created_at"`
}

type Sprint struct {
	ID            int64               `json:"id"`
	ProjectID     int64               `json:"project_id"`
	ProjectName   string              `json:"project_name,omitempty"`
	Name          string              `json:"name"`
	StartDate     string              `json:"start_date"`
	EndDate       string              `json:"end_date"`
	EstimatedCost decimal.Decimal     `json:"estimated_cost"`
	RealCost      decimal.NullDecimal `json:"real_cost"`
	Status        string              `json:"status"`
	Activities    *string             `json:"activities,omitempty"`
	CreatedAt     string              `json:"created_at"`
}

type Profile struct {
	ID         int64               `json:"id"`
	Name       string              `json:"name"`
	HourlyRate decimal.NullDecimal `json:"hourly_rate"`
	ValidFrom  *string             `json:"valid_from,omitempty"`
	Active     bool                `json:"active"`
	CreatedAt  string              `json:"created_at"`
}

type Assignment struct {
	ID              int64               `json:"id"`
	PersonID        int64               `json:"person_id"`
	PersonName      string              `json:"person_name,omitempty"`
	ProjectID       int64               `json:"project_id"`
	ProjectName     string              `json:"project_name,omitempty"`
	SprintID        *int64              `json:"sprint_id,omitempty"`
	SprintName      *string             `json:"sprint_name,omitempty"`
	ProfileID       *int64              `json:"profile_id,omitempty"`
	ProfileName     *string             `json:"profile_name,omitempty"`
	DedicationHours float64             `json:"dedication_hours"`
	Rate            decimal.NullDecimal `json:"rate"`
	StartDate       string              `json:"start_date"`
	EndDate         *string             `json:"end_date,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

// ActiveOn reports whether the assignment counts toward workload on the given date.
func (a Assignment) ActiveOn(today string) bool {
	return a.EndDate == nil || *a.EndDate >= today
}

type User struct {
	ID           int64   `json:"id"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         string  `json:"role"`
	PersonID     *int64  `json:"person_id,omitempty"`
	PersonName   *string `json:"person_name,omitempty"`
	Active       bool    `json:"active"`
	LastLoginAt  *string `json:"last_login_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type Document struct {
	ID           int64               `json:"id"`
	ProjectID    int64               `json:"project_id"`
	FileName     string              `json:"file_name"`
	StorageKey   string              `json:"storage_key"`
	Description  *string             `json:"description,omitempty"`
	SizeBytes    *int64              `json:"size_bytes,omitempty"`
	MimeType     *string             `json:"mime_type,omitempty"`
	Amount       decimal.NullDecimal `json:"amount"`
	Tax          decimal.NullDecimal `json:"tax"`
	DocumentDate *string             `json:"document_date,omitempty"`
	UploadedAt   string              `json:"uploaded_at"`
}

type Parameter struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

type Event struct {
	ID         int64   `json:"id"`
	TS         string  `json:"ts"`
	ActorID    *int64  `json:"actor_id,omitempty"`
	Kind       string  `json:"kind"`
	EntityType string  `json:"entity_type"`
	EntityID   int64   `json:"entity_id"`
	DetailJSON *string `json:"detail_json,omitempty"`
}

// Workload is a person's aggregate load over active assignments on open projects.
type Workload struct {
	PersonID     int64   `json:"person_id"`
	TotalHours   float64 `json:"total_hours"`
	ProjectCount int     `json:"project_count"`
}

// WorkloadRow is one line of the workload ranking.
type WorkloadRow struct {
	PersonID     int64   `json:"person_id"`
	PersonName   string  `json:"person_name"`
	TotalHours   float64 `json:"total_hours"`
	ProjectCount int     `json:"project_count"`
}
