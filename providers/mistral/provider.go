// Package mistral adapts Mistral AI's API to the providers.Adapter
// contract. Mistral speaks the OpenAI chat-completions wire format, so
// this is a thin instantiation of the shared openaicompat base.
package mistral

import (
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
)

const defaultBaseURL = "https://api.mistral.ai"
const defaultModel = "mistral-large-latest"

// New creates the Mistral adapter.
func New(logger *zap.Logger) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ProviderName:   "mistral",
		DefaultBaseURL: defaultBaseURL,
		FallbackModel:  defaultModel,
	}, logger)
}
