// Package cost prices backend token usage.
package cost

import "github.com/sells-group/intent-cli/internal/model"

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates maps model ids to pricing.
type Rates map[string]ModelRate

// Calculator computes costs for backend usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator from the default rates overlaid with
// overrides.
func NewCalculator(overrides Rates) *Calculator {
	rates := DefaultRates()
	for m, r := range overrides {
		rates[m] = r
	}
	return &Calculator{rates: rates}
}

// Price returns the USD cost of usage on model. Unknown models cost 0.
func (c *Calculator) Price(modelID string, u model.TokenUsage) float64 {
	rate, ok := c.rates[modelID]
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// Known reports whether the model has a rate.
func (c *Calculator) Known(modelID string) bool {
	_, ok := c.rates[modelID]
	return ok
}

// DefaultRates returns the built-in pricing.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"gemini-2.5-flash":           {Input: 0.30, Output: 2.50, CacheReadMul: 0.25},
		"gemini-2.5-pro":             {Input: 1.25, Output: 10.00, CacheReadMul: 0.25},
	}
}
