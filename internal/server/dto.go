package server

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"projectops/internal/domain"
	"projectops/internal/engine"
)

// Money fields are decimal strings so clients never round through float64.

type PersonResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	HourlyCost     *string `json:"hourly_cost,omitempty" example:"45.50"`
	DocumentType   *string `json:"document_type,omitempty"`
	DocumentNumber *string `json:"document_number,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Email          *string `json:"email,omitempty"`
	Country        *string `json:"country,omitempty"`
	Seniority      *string `json:"seniority,omitempty"`
	LeaderID       *int64  `json:"leader_id,omitempty"`
	LeaderName     *string `json:"leader_name,omitempty"`
	ValidFrom      *string `json:"valid_from,omitempty" format:"date"`
	Active         bool    `json:"active"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type WorkloadResponse struct {
	PersonID     int64   `json:"person_id"`
	TotalHours   float64 `json:"total_hours"`
	ProjectCount int     `json:"project_count"`
	LimitHours   float64 `json:"limit_hours"`
}

type ProjectResponse struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Client           *string `json:"client,omitempty"`
	LeaderID         *int64  `json:"leader_id,omitempty"`
	LeaderName       *string `json:"leader_name,omitempty"`
	StartDate        string  `json:"start_date" format:"date"`
	EstimatedEndDate string  `json:"estimated_end_date" format:"date"`
	EndDate          *string `json:"end_date,omitempty" format:"date"`
	Status           string  `json:"status" enum:"Draft,Active,Paused,Closed"`
	Budget           string  `json:"budget" example:"120000.00"`
	RealCost         *string `json:"real_cost,omitempty"`
	Country          *string `json:"country,omitempty"`
	Category         *string `json:"category,omitempty"`
	Description      *string `json:"description,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type SprintResponse struct {
	ID            int64   `json:"id"`
	ProjectID     int64   `json:"project_id"`
	ProjectName   string  `json:"project_name,omitempty"`
	Name          string  `json:"name"`
	StartDate     string  `json:"start_date" format:"date"`
	EndDate       string  `json:"end_date" format:"date"`
	EstimatedCost string  `json:"estimated_cost"`
	RealCost      *string `json:"real_cost,omitempty"`
	Status        string  `json:"status" enum:"Planned,InProgress,Closed"`
	Activities    *string `json:"activities,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type AssignmentResponse struct {
	ID              int64   `json:"id"`
	PersonID        int64   `json:"person_id"`
	PersonName      string  `json:"person_name,omitempty"`
	ProjectID       int64   `json:"project_id"`
	ProjectName     string  `json:"project_name,omitempty"`
	SprintID        *int64  `json:"sprint_id,omitempty"`
	SprintName      *string `json:"sprint_name,omitempty"`
	ProfileID       *int64  `json:"profile_id,omitempty"`
	ProfileName     *string `json:"profile_name,omitempty"`
	DedicationHours float64 `json:"dedication_hours"`
	Rate            *string `json:"rate,omitempty"`
	StartDate       string  `json:"start_date" format:"date"`
	EndDate         *string `json:"end_date,omitempty" format:"date"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type UserResponse struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	Role        string  `json:"role" enum:"admin,viewer"`
	PersonID    *int64  `json:"person_id,omitempty"`
	PersonName  *string `json:"person_name,omitempty"`
	Active      bool    `json:"active"`
	LastLoginAt *string `json:"last_login_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	ActorID    *int64         `json:"actor_id,omitempty"`
	Kind       string         `json:"kind"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Detail     map[string]any `json:"detail,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type CostRowResponse struct {
	ProjectID int64   `json:"project_id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Estimated string  `json:"estimated"`
	Real      *string `json:"real,omitempty"`
	Deviation float64 `json:"deviation"`
	Band      string  `json:"band" enum:"green,amber,red,none"`
}

type WorkloadRowResponse struct {
	PersonID     int64   `json:"person_id"`
	PersonName   string  `json:"person_name"`
	TotalHours   float64 `json:"total_hours"`
	ProjectCount int     `json:"project_count"`
}

type PortfolioResponse struct {
	Projects         int                   `json:"projects"`
	ActiveProjects   int                   `json:"active_projects"`
	ClosedProjects   int                   `json:"closed_projects"`
	EstimatedTotal   string                `json:"estimated_total"`
	RealTotal        string                `json:"real_total"`
	AverageDeviation float64               `json:"average_deviation"`
	Band             string                `json:"band" enum:"green,amber,red,none"`
	AmberThreshold   float64               `json:"amber_threshold"`
	RedThreshold     float64               `json:"red_threshold"`
	Costs            []CostRowResponse     `json:"costs"`
	TopWorkload      []WorkloadRowResponse `json:"top_workload"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func nullMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := money(d.Decimal)
	return &s
}

func personResponse(p domain.Person) PersonResponse {
	return PersonResponse{
		ID:             p.ID,
		Name:           p.Name,
		Role:           p.Role,
		HourlyCost:     nullMoney(p.HourlyCost),
		DocumentType:   p.DocumentType,
		DocumentNumber: p.DocumentNumber,
		Phone:          p.Phone,
		Email:          p.Email,
		Country:        p.Country,
		Seniority:      p.Seniority,
		LeaderID:       p.LeaderID,
		LeaderName:     p.LeaderName,
		ValidFrom:      p.ValidFrom,
		Active:         p.Active,
		CreatedAt:      p.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:               p.ID,
		Name:             p.Name,
		Client:           p.Client,
		LeaderID:         p.LeaderID,
		LeaderName:       p.LeaderName,
		StartDate:        p.StartDate,
		EstimatedEndDate: p.EstimatedEndDate,
		EndDate:          p.EndDate,
		Status:           p.Status,
		Budget:           money(p.Budget),
		RealCost:         nullMoney(p.RealCost),
		Country:          p.Country,
		Category:         p.Category,
		Description:      p.Description,
		CreatedAt:        p.CreatedAt,
	}
}

func sprintResponse(s domain.Sprint) SprintResponse {
	return SprintResponse{
		ID:            s.ID,
		ProjectID:     s.ProjectID,
		ProjectName:   s.ProjectName,
		Name:          s.Name,
		StartDate:     s.StartDate,
		EndDate:       s.EndDate,
		EstimatedCost: money(s.EstimatedCost),
		RealCost:      nullMoney(s.RealCost),
		Status:        s.Status,
		Activities:    s.Activities,
		CreatedAt:     s.CreatedAt,
	}
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:              a.ID,
		PersonID:        a.PersonID,
		PersonName:      a.PersonName,
		ProjectID:       a.ProjectID,
		ProjectName:     a.ProjectName,
		SprintID:        a.SprintID,
		SprintName:      a.SprintName,
		ProfileID:       a.ProfileID,
		ProfileName:     a.ProfileName,
		DedicationHours: a.DedicationHours,
		Rate:            nullMoney(a.Rate),
		StartDate:       a.StartDate,
		EndDate:         a.EndDate,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		PersonID:    u.PersonID,
		PersonName:  u.PersonName,
		Active:      u.Active,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		ActorID:    e.ActorID,
		Kind:       e.Kind,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Detail:     decodeJSONMap(e.DetailJSON),
	}
}

func portfolioResponse(p engine.Portfolio, costs []engine.CostRow, top []domain.WorkloadRow) PortfolioResponse {
	res := PortfolioResponse{
		Projects:         p.Projects,
		ActiveProjects:   p.ActiveProjects,
		ClosedProjects:   p.ClosedProjects,
		EstimatedTotal:   money(p.EstimatedTotal),
		RealTotal:        money(p.RealTotal),
		AverageDeviation: p.AverageDeviation,
		Band:             p.Band,
		AmberThreshold:   p.Thresholds.Amber,
		RedThreshold:     p.Thresholds.Red,
		Costs:            make([]CostRowResponse, 0, len(costs)),
		TopWorkload:      make([]WorkloadRowResponse, 0, len(top)),
	}
	for _, c := range costs {
		res.Costs = append(res.Costs, CostRowResponse{
			ProjectID: c.ProjectID,
			Name:      c.Name,
			Status:    c.Status,
			Estimated: money(c.Estimated),
			Real:      nullMoney(c.Real),
			Deviation: c.Deviation,
			Band:      c.Band,
		})
	}
	for _, w := range top {
		res.TopWorkload = append(res.TopWorkload, WorkloadRowResponse(w))
	}
	return res
}

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return map[string]any{"raw": *raw}
	}
	return out
}
