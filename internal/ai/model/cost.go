package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64 `yaml:"input_per_m" json:"input_per_m"`
	OutputPerM float64 `yaml:"output_per_m" json:"output_per_m"`
}

// ResolvePricing returns the configured pricing of a model, zero when unset.
// The GLM flash models are free tier.
func ResolvePricing(cfg ModelConfig) Pricing {
	if cfg.Pricing == nil {
		return Pricing{}
	}
	return *cfg.Pricing
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}
