package services

import (
	"fmt"
	"math"

	"github.com/mediaforge/studio/internal/catalog"
)

// PriceUnit is what a rate is charged per
type PriceUnit string

const (
	PerImage  PriceUnit = "per_image"
	PerSecond PriceUnit = "per_second"
	PerRun    PriceUnit = "per_run"
)

// Rate is the list price of one model
type Rate struct {
	Unit PriceUnit `json:"unit"`
	USD  float64   `json:"usd"`
	// CountParam names the parameter holding the number of outputs for PerImage rates
	CountParam string `json:"count_param,omitempty"`
	// ResolutionParam and Multipliers scale PerSecond rates by output resolution
	ResolutionParam string             `json:"resolution_param,omitempty"`
	Multipliers     map[string]float64 `json:"multipliers,omitempty"`
}

// Cost is an estimate in both currencies, rounded to 4 decimals
type Cost struct {
	USD  float64 `json:"usd"`
	EUR  float64 `json:"eur"`
	Unit string  `json:"unit"`
}

// DefaultRates are list prices in USD
var DefaultRates = map[string]Rate{
	"flux-schnell":     {Unit: PerImage, USD: 0.003, CountParam: "num_outputs"},
	"flux-dev":         {Unit: PerImage, USD: 0.025, CountParam: "num_outputs"},
	"flux-1.1-pro":     {Unit: PerImage, USD: 0.04},
	"kling-v1.6":       {Unit: PerSecond, USD: 0.056},
	"minimax-video-01": {Unit: PerRun, USD: 0.5},
	"hailuo-02": {Unit: PerSecond, USD: 0.045, ResolutionParam: "resolution",
		Multipliers: map[string]float64{"512p": 0.5, "768p": 1, "1080p": 1.8}},
	"sticker-maker": {Unit: PerImage, USD: 0.01, CountParam: "number_of_images"},
}

// CostService estimates what a generation costs
type CostService struct {
	catalog  *catalog.Catalog
	rates    map[string]Rate
	usdToEUR float64
}

// NewCostService creates a cost service. A nil rates map uses DefaultRates.
func NewCostService(cat *catalog.Catalog, rates map[string]Rate, usdToEUR float64) *CostService {
	if rates == nil {
		rates = DefaultRates
	}
	return &CostService{catalog: cat, rates: rates, usdToEUR: usdToEUR}
}

// RateFor returns the rate of modelKey
func (s *CostService) RateFor(modelKey string) (Rate, bool) {
	r, ok := s.rates[modelKey]
	return r, ok
}

// ToEUR converts with the configured fixed rate
func (s *CostService) ToEUR(usd float64) float64 {
	return usd * s.usdToEUR
}

// Estimate prices a run of modelKey with raw params. Missing params take the
// model defaults, so an empty map prices the default configuration.
func (s *CostService) Estimate(modelKey string, params map[string]any) (Cost, error) {
	model, err := s.catalog.Get(modelKey)
	if err != nil {
		return Cost{}, err
	}
	resolved, err := model.Resolve(params)
	if err != nil {
		return Cost{}, err
	}
	return s.estimateResolved(model.Key, resolved)
}

func (s *CostService) estimateResolved(modelKey string, params map[string]any) (Cost, error) {
	rate, ok := s.rates[modelKey]
	if !ok {
		return Cost{}, fmt.Errorf("%w: no price for %s", catalog.ErrUnknownModel, modelKey)
	}

	var usd float64
	switch rate.Unit {
	case PerImage:
		count := 1.0
		if rate.CountParam != "" {
			if n, ok := number(params[rate.CountParam]); ok && n > 0 {
				count = n
			}
		}
		usd = rate.USD * count
	case PerSecond:
		seconds, ok := number(params["duration"])
		if !ok || seconds <= 0 {
			return Cost{}, fmt.Errorf("%w: duration is required to price %s", catalog.ErrInvalidParam, modelKey)
		}
		mult := 1.0
		if rate.ResolutionParam != "" {
			if m, ok := rate.Multipliers[fmt.Sprint(params[rate.ResolutionParam])]; ok {
				mult = m
			}
		}
		usd = rate.USD * seconds * mult
	case PerRun:
		usd = rate.USD
	default:
		return Cost{}, fmt.Errorf("unknown price unit %q for %s", rate.Unit, modelKey)
	}

	return Cost{USD: round4(usd), EUR: round4(s.ToEUR(usd)), Unit: string(rate.Unit)}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
