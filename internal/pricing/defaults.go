package pricing

import "github.com/shopspring/decimal"

// mustRate parses two or three per-token price literals into a Rate. Only
// used to build the static default table below, where the literals are
// fixed at compile time.
func mustRate(input, output string, cachedInput ...string) Rate {
	r := Rate{
		InputCostPerToken:  decimal.RequireFromString(input),
		OutputCostPerToken: decimal.RequireFromString(output),
	}
	if len(cachedInput) > 0 {
		r.CachedInputCostPerToken = decimal.RequireFromString(cachedInput[0])
	}
	return r
}

// DefaultStaticTable is the gateway's bundled fallback pricing, used when a
// model has no deployment-linked pricing row. Figures are
// representative public per-token list prices, in whole-dollar-per-token
// decimal (e.g. "0.0000025" = $2.50 / 1M tokens).
func DefaultStaticTable() map[string]Rate {
	return map[string]Rate{
		"gpt-4o":          mustRate("0.0000025", "0.00001"),
		"gpt-4o-mini":     mustRate("0.00000015", "0.0000006"),
		"gpt-4.1":         mustRate("0.000002", "0.000008"),
		"o1":              mustRate("0.000015", "0.00006"),
		"claude-3-5-sonnet-20241022": mustRate("0.000003", "0.000015", "0.0000003"),
		"claude-3-haiku":  mustRate("0.00000025", "0.00000125", "0.00000003"),
		"claude-3-opus":   mustRate("0.000015", "0.000075"),
		"gemini-3-pro":    mustRate("0.00000125", "0.000005"),
		"gemini-2.0-flash": mustRate("0.0000001", "0.0000004"),
		"command-r-plus":  mustRate("0.0000025", "0.00001"),
		"mistral-large-latest": mustRate("0.000002", "0.000006"),
		"llama-3.3-70b-versatile": mustRate("0.00000059", "0.00000079"),
		// Self-hosted adapters default to zero cost; they
		// are deliberately absent from this table rather than listed at 0,
		// so ZeroRate's fallback path is what actually serves them.
	}
}
