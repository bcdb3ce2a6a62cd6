package graph

import (
	"strings"
	"time"

	"github.com/dshills/incidentgraph/graph/model"
)

// ModelPricing is the price of a model in USD per million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Pricing maps model identifiers to their prices. A versioned identifier
// such as "gpt-4o-2024-08-06" falls back to the longest listed prefix.
type Pricing map[string]ModelPricing

// DefaultPricing returns list prices for the supported providers.
//
// Prices change; override them with WithPricing.
func DefaultPricing() Pricing {
	return Pricing{
		"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
		"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4.1":           {InputPer1M: 2.00, OutputPer1M: 8.00},
		"gpt-4.1-mini":      {InputPer1M: 0.40, OutputPer1M: 1.60},
		"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
		"claude-sonnet-4":   {InputPer1M: 3.00, OutputPer1M: 15.00},
		"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
		"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
		"gemini-2.0-flash":  {InputPer1M: 0.10, OutputPer1M: 0.40},
	}
}

// lookup returns the pricing for model, trying the exact name first and then
// the longest matching prefix.
func (p Pricing) lookup(model string) (ModelPricing, bool) {
	if mp, ok := p[model]; ok {
		return mp, true
	}
	best, found := "", false
	for name := range p {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best, found = name, true
		}
	}
	return p[best], found
}

// Cost returns the USD cost of a call. Unknown models cost zero.
func (p Pricing) Cost(model string, tokensIn, tokensOut int) float64 {
	mp, ok := p.lookup(model)
	if !ok {
		return 0
	}
	return float64(tokensIn)/1_000_000*mp.InputPer1M + float64(tokensOut)/1_000_000*mp.OutputPer1M
}

// LLMCall is one completion call made by a step.
type LLMCall struct {
	Phase     Phase     `json:"phase"`
	Model     string    `json:"model,omitempty"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

func newLLMCall(phase Phase, out model.ChatOut) LLMCall {
	return LLMCall{
		Phase:     phase,
		Model:     out.Model,
		TokensIn:  out.TokensIn,
		TokensOut: out.TokensOut,
		Timestamp: time.Now(),
	}
}

// Usage totals the completion calls of one request.
type Usage struct {
	Calls     int     `json:"calls"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

func summarizeUsage(calls []LLMCall) Usage {
	var u Usage
	for _, c := range calls {
		u.Calls++
		u.TokensIn += c.TokensIn
		u.TokensOut += c.TokensOut
		u.CostUSD += c.CostUSD
	}
	return u
}
