package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/models"
)

// UsageReader exposes stored per-model counters
type UsageReader interface {
	All(ctx context.Context) (map[string]models.ModelUsage, error)
}

// UsageRow is one model in the usage summary
type UsageRow struct {
	Model string `json:"model"`
	Name  string `json:"name"`
	models.ModelUsage
	SuccessRate  float64 `json:"success_rate"`
	TotalCostEUR float64 `json:"total_cost_eur"`
}

// UsageSummary aggregates usage across models
type UsageSummary struct {
	Models         []UsageRow `json:"models"`
	TotalRuns      int        `json:"total_runs"`
	TotalSucceeded int        `json:"total_succeeded"`
	SuccessRate    float64    `json:"success_rate"`
	TotalCostUSD   float64    `json:"total_cost_usd"`
	TotalCostEUR   float64    `json:"total_cost_eur"`
}

// UsageService reports usage statistics
type UsageService struct {
	usage   UsageReader
	catalog *catalog.Catalog
	costs   *CostService
}

// NewUsageService creates a new usage service
func NewUsageService(usage UsageReader, cat *catalog.Catalog, costs *CostService) *UsageService {
	return &UsageService{usage: usage, catalog: cat, costs: costs}
}

// Summary returns per-model rows sorted by key plus totals
func (s *UsageService) Summary(ctx context.Context) (*UsageSummary, error) {
	all, err := s.usage.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage stats: %w", err)
	}

	summary := &UsageSummary{Models: make([]UsageRow, 0, len(all))}
	for key, u := range all {
		name := key
		if m, err := s.catalog.Get(key); err == nil {
			name = m.Name
		}
		summary.Models = append(summary.Models, UsageRow{
			Model:        key,
			Name:         name,
			ModelUsage:   u,
			SuccessRate:  round4(u.SuccessRate()),
			TotalCostEUR: round4(s.costs.ToEUR(u.TotalCostUSD)),
		})
		summary.TotalRuns += u.Total
		summary.TotalSucceeded += u.Succeeded
		summary.TotalCostUSD += u.TotalCostUSD
	}
	sort.Slice(summary.Models, func(i, j int) bool { return summary.Models[i].Model < summary.Models[j].Model })

	if summary.TotalRuns > 0 {
		summary.SuccessRate = round4(float64(summary.TotalSucceeded) / float64(summary.TotalRuns) * 100)
	}
	summary.TotalCostEUR = round4(s.costs.ToEUR(summary.TotalCostUSD))
	summary.TotalCostUSD = round4(summary.TotalCostUSD)
	return summary, nil
}
