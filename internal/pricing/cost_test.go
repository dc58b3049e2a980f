package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
)

type stubPricingReader struct {
	row *controlplane.ModelPricing
	err error
}

func (s *stubPricingReader) PricingForModel(ctx context.Context, modelName string) (*controlplane.ModelPricing, error) {
	return s.row, s.err
}

func TestManager_RateFor_DBPrecedesStatic(t *testing.T) {
	db := &stubPricingReader{row: &controlplane.ModelPricing{
		InputCostPerToken:  "0.000001",
		OutputCostPerToken: "0.000002",
	}}
	static := map[string]Rate{"gpt-4": {InputCostPerToken: decimal.NewFromFloat(0.1)}}
	mgr := NewManager(db, static, zap.NewNop())

	rate := mgr.RateFor(context.Background(), "gpt-4")
	assert.True(t, rate.InputCostPerToken.Equal(decimal.RequireFromString("0.000001")))
}

func TestManager_RateFor_FallsBackToStatic(t *testing.T) {
	db := &stubPricingReader{row: nil, err: errors.New("not found")}
	static := map[string]Rate{"gpt-4": {InputCostPerToken: decimal.NewFromFloat(0.1)}}
	mgr := NewManager(db, static, zap.NewNop())

	rate := mgr.RateFor(context.Background(), "gpt-4")
	assert.True(t, rate.InputCostPerToken.Equal(decimal.NewFromFloat(0.1)))
}

func TestManager_RateFor_FallsBackToZero(t *testing.T) {
	mgr := NewManager(nil, nil, zap.NewNop())
	rate := mgr.RateFor(context.Background(), "unknown-model")
	assert.True(t, rate.InputCostPerToken.IsZero())
	assert.True(t, rate.OutputCostPerToken.IsZero())
	assert.True(t, rate.CachedInputCostPerToken.IsZero())
}

func TestManager_RateFor_MalformedDBRowFallsBackToStatic(t *testing.T) {
	db := &stubPricingReader{row: &controlplane.ModelPricing{InputCostPerToken: "not-a-number"}}
	static := map[string]Rate{"gpt-4": {InputCostPerToken: decimal.NewFromFloat(0.1)}}
	mgr := NewManager(db, static, zap.NewNop())

	rate := mgr.RateFor(context.Background(), "gpt-4")
	assert.True(t, rate.InputCostPerToken.Equal(decimal.NewFromFloat(0.1)))
}

func TestComputeCost(t *testing.T) {
	rate := Rate{
		InputCostPerToken:       decimal.RequireFromString("0.00001"),
		OutputCostPerToken:      decimal.RequireFromString("0.00003"),
		CachedInputCostPerToken: decimal.RequireFromString("0.000005"),
	}

	cost := ComputeCost(rate, 1000, 500, 200)
	// 1000*0.00001 + 500*0.00003 + 200*0.000005 = 0.01 + 0.015 + 0.001 = 0.026
	expected := decimal.RequireFromString("0.026000000000")
	require.True(t, cost.Equal(expected), "got %s want %s", cost, expected)
}

func TestComputeCost_ZeroRateIsZeroCost(t *testing.T) {
	cost := ComputeCost(ZeroRate, 100000, 100000, 100000)
	assert.True(t, cost.IsZero())
}

func TestComputeCost_RoundsToTwelveDigits(t *testing.T) {
	rate := Rate{InputCostPerToken: decimal.RequireFromString("0.0000000000001")}
	cost := ComputeCost(rate, 1, 0, 0)
	assert.LessOrEqual(t, len(cost.String())-len("0."), Precision+1)
}

// Property: cost must never decrease when any token count increases, for
// any non-negative rate. This mirrors the invariant the static fallback
// table and spend recorder both rely on: spend never goes backwards as
// usage accrues within one request.
func TestComputeCost_MonotonicInTokenCounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		input := rapid.Float64Range(0, 1).Draw(rt, "input")
		output := rapid.Float64Range(0, 1).Draw(rt, "output")
		cached := rapid.Float64Range(0, 1).Draw(rt, "cached")
		rate := Rate{
			InputCostPerToken:       decimal.NewFromFloat(input),
			OutputCostPerToken:      decimal.NewFromFloat(output),
			CachedInputCostPerToken: decimal.NewFromFloat(cached),
		}

		prompt := rapid.IntRange(0, 100000).Draw(rt, "prompt")
		completion := rapid.IntRange(0, 100000).Draw(rt, "completion")
		cacheRead := rapid.IntRange(0, 100000).Draw(rt, "cacheRead")
		extraPrompt := rapid.IntRange(0, 1000).Draw(rt, "extraPrompt")

		base := ComputeCost(rate, prompt, completion, cacheRead)
		grown := ComputeCost(rate, prompt+extraPrompt, completion, cacheRead)

		if grown.LessThan(base) {
			rt.Fatalf("cost decreased when prompt tokens grew: base=%s grown=%s", base, grown)
		}
	})
}

// Property: cost computed from a Rate is always non-negative given
// non-negative rates and token counts (no arithmetic can flip the sign).
func TestComputeCost_NeverNegative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rate := Rate{
			InputCostPerToken:       decimal.NewFromFloat(rapid.Float64Range(0, 10).Draw(rt, "input")),
			OutputCostPerToken:      decimal.NewFromFloat(rapid.Float64Range(0, 10).Draw(rt, "output")),
			CachedInputCostPerToken: decimal.NewFromFloat(rapid.Float64Range(0, 10).Draw(rt, "cached")),
		}
		cost := ComputeCost(rate,
			rapid.IntRange(0, 1000000).Draw(rt, "prompt"),
			rapid.IntRange(0, 1000000).Draw(rt, "completion"),
			rapid.IntRange(0, 1000000).Draw(rt, "cacheRead"),
		)
		if cost.IsNegative() {
			rt.Fatalf("cost went negative: %s", cost)
		}
	})
}
