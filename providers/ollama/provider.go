// Package ollama adapts a local or self-hosted Ollama server to the
// providers.Adapter contract via its OpenAI-compatibility endpoint
// (/v1/chat/completions), a thin instantiation of the shared openaicompat
// base.
package ollama

import (
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
)

const defaultBaseURL = "http://localhost:11434"
const defaultModel = "llama3.2"

// New creates the Ollama adapter.
func New(logger *zap.Logger) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ProviderName:   "ollama",
		DefaultBaseURL: defaultBaseURL,
		FallbackModel:  defaultModel,
	}, logger)
}
