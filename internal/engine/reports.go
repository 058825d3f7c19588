package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"projectops/internal/domain"
	"projectops/internal/params"
	"projectops/internal/repo"
)

// Deviation bands.
const (
	BandGreen = "green"
	BandAmber = "amber"
	BandRed   = "red"
	BandNone  = "none"
)

// Deviation is (real - estimated) / estimated. It is 0 when either side is
// missing or the estimate is zero.
func Deviation(realCost decimal.NullDecimal, estimated decimal.Decimal) float64 {
	if !realCost.Valid || estimated.IsZero() {
		return 0
	}
	f, _ := realCost.Decimal.Sub(estimated).Div(estimated).Float64()
	return f
}

// Band classifies a deviation against the amber and red thresholds.
func Band(dev, amber, red float64) string {
	switch {
	case dev >= red:
		return BandRed
	case dev >= amber:
		return BandAmber
	default:
		return BandGreen
	}
}

// DeviationThresholds are the amber and red deviation cutoffs in effect.
type DeviationThresholds struct {
	Amber float64 `json:"amber"`
	Red   float64 `json:"red"`
}

func (e Engine) deviationThresholds(ctx context.Context) DeviationThresholds {
	return DeviationThresholds{
		Amber: e.Params.Float(ctx, e.DB, params.DeviationAmber, params.DefaultDeviationAmber),
		Red:   e.Params.Float(ctx, e.DB, params.DeviationRed, params.DefaultDeviationRed),
	}
}

// Portfolio summarizes all projects.
type Portfolio struct {
	Projects         int                 `json:"projects"`
	ActiveProjects   int                 `json:"active_projects"`
	ClosedProjects   int                 `json:"closed_projects"`
	EstimatedTotal   decimal.Decimal     `json:"estimated_total"`
	RealTotal        decimal.Decimal     `json:"real_total"`
	AverageDeviation float64             `json:"average_deviation"`
	Band             string              `json:"band"`
	Thresholds       DeviationThresholds `json:"thresholds"`
}

// PortfolioOverview averages deviation over closed projects that carry a
// real cost; the band is none when there are none.
func (e Engine) PortfolioOverview(ctx context.Context) (Portfolio, error) {
	projects, err := e.Repo.ListProjects(ctx, nil, repo.ProjectFilter{})
	if err != nil {
		return Portfolio{}, err
	}
	th := e.deviationThresholds(ctx)
	out := Portfolio{Band: BandNone, Thresholds: th}
	var devSum float64
	var devN int
	for _, p := range projects {
		out.Projects++
		out.EstimatedTotal = out.EstimatedTotal.Add(p.Budget)
		if p.RealCost.Valid {
			out.RealTotal = out.RealTotal.Add(p.RealCost.Decimal)
		}
		switch p.Status {
		case domain.ProjectActive:
			out.ActiveProjects++
		case domain.ProjectClosed:
			out.ClosedProjects++
			if p.RealCost.Valid && !p.Budget.IsZero() {
				devSum += Deviation(p.RealCost, p.Budget)
				devN++
			}
		}
	}
	if devN > 0 {
		out.AverageDeviation = devSum / float64(devN)
		out.Band = Band(out.AverageDeviation, th.Amber, th.Red)
	}
	return out, nil
}

// CostRow is one project's estimated against real cost.
type CostRow struct {
	ProjectID int64               `json:"project_id"`
	Name      string              `json:"name"`
	Status    string              `json:"status"`
	Estimated decimal.Decimal     `json:"estimated"`
	Real      decimal.NullDecimal `json:"real"`
	Deviation float64             `json:"deviation"`
	Band      string              `json:"band"`
}

func (e Engine) CostTable(ctx context.Context, f repo.ProjectFilter) ([]CostRow, error) {
	projects, err := e.ListProjects(ctx, f)
	if err != nil {
		return nil, err
	}
	th := e.deviationThresholds(ctx)
	rows := make([]CostRow, 0, len(projects))
	for _, p := range projects {
		row := CostRow{ProjectID: p.ID, Name: p.Name, Status: p.Status, Estimated: p.Budget, Real: p.RealCost, Band: BandNone}
		if p.RealCost.Valid {
			row.Deviation = Deviation(p.RealCost, p.Budget)
			row.Band = Band(row.Deviation, th.Amber, th.Red)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
