// Package groq adapts Groq's low-latency inference API to the
// providers.Adapter contract. Groq speaks the OpenAI chat-completions
// wire format, so this is a thin instantiation of the shared openaicompat
// base.
package groq

import (
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
)

const defaultBaseURL = "https://api.groq.com/openai"
const defaultModel = "llama-3.3-70b-versatile"

// New creates the Groq adapter.
func New(logger *zap.Logger) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ProviderName:   "groq",
		DefaultBaseURL: defaultBaseURL,
		FallbackModel:  defaultModel,
	}, logger)
}
