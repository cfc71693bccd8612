package usage

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Usage holds token counts for a single API call.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// Tracker accumulates token usage and cost across API calls.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	total   Usage
	cost    decimal.Decimal
	calls   int
	pricing map[string]ModelPricing
}

// NewTracker creates a Tracker. A nil pricing map falls back to
// DefaultPricing.
func NewTracker(pricing map[string]ModelPricing) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{cost: decimal.Zero, pricing: pricing}
}

// Record adds one call's usage to the running totals. Unknown models have
// their tokens counted but contribute no cost.
func (t *Tracker) Record(model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.total.InputTokens += u.InputTokens
	t.total.OutputTokens += u.OutputTokens
	t.total.CacheReadInputTokens += u.CacheReadInputTokens
	t.total.CacheCreationInputTokens += u.CacheCreationInputTokens

	if p, ok := t.pricing[model]; ok {
		t.cost = t.cost.Add(p.Cost(u))
	}
}

// Total returns the cumulative token usage.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Cost returns the cumulative USD cost.
func (t *Tracker) Cost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// Calls returns how many calls have been recorded.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
