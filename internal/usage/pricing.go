// Package usage tracks cumulative token counts and API cost across model
// calls made by an agent run.
package usage

import "github.com/shopspring/decimal"

// ModelPricing holds per-model token prices in USD per million tokens.
type ModelPricing struct {
	InputPerMTok      decimal.Decimal
	OutputPerMTok     decimal.Decimal
	CacheWritePerMTok decimal.Decimal
	CacheReadPerMTok  decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// Cost returns the total cost of one call under this pricing.
func (p ModelPricing) Cost(u Usage) decimal.Decimal {
	cost := decimal.NewFromInt(int64(u.InputTokens)).Mul(p.InputPerMTok).Div(million)
	cost = cost.Add(decimal.NewFromInt(int64(u.CacheReadInputTokens)).Mul(p.CacheReadPerMTok).Div(million))
	cost = cost.Add(decimal.NewFromInt(int64(u.CacheCreationInputTokens)).Mul(p.CacheWritePerMTok).Div(million))
	cost = cost.Add(decimal.NewFromInt(int64(u.OutputTokens)).Mul(p.OutputPerMTok).Div(million))
	return cost
}

// DefaultPricing contains built-in pricing for Claude models, keyed by
// model ID (USD per million tokens).
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-6": {
		InputPerMTok:      decimal.NewFromFloat(5),
		OutputPerMTok:     decimal.NewFromFloat(25),
		CacheWritePerMTok: decimal.NewFromFloat(6.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.5),
	},
	"claude-sonnet-4-5": {
		InputPerMTok:      decimal.NewFromFloat(3),
		OutputPerMTok:     decimal.NewFromFloat(15),
		CacheWritePerMTok: decimal.NewFromFloat(3.75),
		CacheReadPerMTok:  decimal.NewFromFloat(0.3),
	},
	"claude-haiku-4-5": {
		InputPerMTok:      decimal.NewFromFloat(1),
		OutputPerMTok:     decimal.NewFromFloat(5),
		CacheWritePerMTok: decimal.NewFromFloat(1.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.1),
	},
}
