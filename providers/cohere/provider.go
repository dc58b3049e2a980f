// Package cohere adapts Cohere's API to the providers.Adapter contract via
// its OpenAI-compatibility endpoint, so this is a thin instantiation of the
// shared openaicompat base rather than Cohere's native Chat v2 wire format.
package cohere

import (
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
)

const defaultBaseURL = "https://api.cohere.ai/compatibility"
const defaultModel = "command-r-plus"

// New creates the Cohere adapter.
func New(logger *zap.Logger) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ProviderName:   "cohere",
		DefaultBaseURL: defaultBaseURL,
		FallbackModel:  defaultModel,
	}, logger)
}
