// Package vllm adapts a self-hosted vLLM OpenAI-compatible server to the
// providers.Adapter contract. vLLM deployments carry no fixed default base
// URL — every deployment must supply its own api_base — so
// DefaultBaseURL is left empty and dispatch fails fast if one isn't set.
package vllm

import (
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
)

// New creates the vLLM adapter.
func New(logger *zap.Logger) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ProviderName: "vllm",
	}, logger)
}
