// Package pricing provides per-token cost lookup and computation at
// fixed-point decimal precision. float64 cannot hold per-token prices
// like 1.5e-7 through a multiply-and-sum without truncation, so this
// package is built on github.com/shopspring/decimal and keeps twelve
// fractional digits end-to-end.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
)

// Precision is the number of fractional digits all cost arithmetic is
// rounded to before being stored or returned.
const Precision = 12

// Rate is one model's per-token cost, in fixed-point decimal.
type Rate struct {
	InputCostPerToken       decimal.Decimal
	OutputCostPerToken      decimal.Decimal
	CachedInputCostPerToken decimal.Decimal
}

// ZeroRate is the default for self-hosted adapters (Ollama, vLLM) with no
// pricing row and no static table entry.
var ZeroRate = Rate{}

// PricingReader looks up a deployment-linked pricing override.
// *controlplane.Store (extended) or a thin query wrapper satisfies this.
type PricingReader interface {
	PricingForModel(ctx context.Context, modelName string) (*controlplane.ModelPricing, error)
}

// Manager resolves a Rate for a public model name, trying in precedence
// order: deployment-linked DB row, static bundled table, zero-cost
// default.
type Manager struct {
	db     PricingReader
	static map[string]Rate
	logger *zap.Logger
}

// NewManager builds a Manager. db may be nil if no control-plane pricing
// override store is wired (tests, or a static-table-only deployment).
func NewManager(db PricingReader, static map[string]Rate, logger *zap.Logger) *Manager {
	if static == nil {
		static = map[string]Rate{}
	}
	return &Manager{db: db, static: static, logger: logger}
}

// RateFor resolves the Rate for a public model name.
func (m *Manager) RateFor(ctx context.Context, modelName string) Rate {
	if m.db != nil {
		if row, err := m.db.PricingForModel(ctx, modelName); err == nil && row != nil {
			rate, parseErr := rateFromRow(row)
			if parseErr == nil {
				return rate
			}
			m.logger.Warn("pricing: malformed DB pricing row, falling back", zap.String("model", modelName), zap.Error(parseErr))
		}
	}
	if rate, ok := m.static[modelName]; ok {
		return rate
	}
	return ZeroRate
}

func rateFromRow(row *controlplane.ModelPricing) (Rate, error) {
	input, err := decimal.NewFromString(row.InputCostPerToken)
	if err != nil {
		return Rate{}, err
	}
	output, err := decimal.NewFromString(row.OutputCostPerToken)
	if err != nil {
		return Rate{}, err
	}
	cached := decimal.Zero
	if row.CachedInputCostPerToken != "" {
		cached, err = decimal.NewFromString(row.CachedInputCostPerToken)
		if err != nil {
			return Rate{}, err
		}
	}
	return Rate{InputCostPerToken: input, OutputCostPerToken: output, CachedInputCostPerToken: cached}, nil
}

// ComputeCost computes cost = prompt*input + completion*output +
// cacheRead*cachedInput, rounded to Precision fractional digits.
// Arithmetic stays in decimal.Decimal end-to-end; callers must not round
// to float64 until the response is serialized for display.
func ComputeCost(rate Rate, promptTokens, completionTokens, cacheReadTokens int) decimal.Decimal {
	cost := decimal.NewFromInt(int64(promptTokens)).Mul(rate.InputCostPerToken).
		Add(decimal.NewFromInt(int64(completionTokens)).Mul(rate.OutputCostPerToken)).
		Add(decimal.NewFromInt(int64(cacheReadTokens)).Mul(rate.CachedInputCostPerToken))
	return cost.Round(Precision)
}
