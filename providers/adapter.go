// Package providers defines the provider adapter contract and the
// registry that resolves a public model name to a concrete adapter.
package providers

import (
	"context"
	"time"

	"github.com/gatewayllm/gatewayllm/types"
)

// Model describes one model an adapter can serve, as reported by the
// upstream provider's own model-listing endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// HealthStatus reports the outcome of a provider reachability probe.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
}

// Credentials carries the resolved, decrypted secret material a deployment
// needs to authenticate with its upstream provider. Dispatch-time only:
// never persisted or logged.
type Credentials struct {
	APIKey  string
	Extra   map[string]string // e.g. AWS access key/secret for Bedrock
}

// Adapter is the contract every provider implementation satisfies.
// A single Adapter instance is stateless with respect to credentials: the
// deployment's resolved Credentials and base URL/settings are passed on
// every call, since one adapter instance is shared across every deployment
// of that provider type.
type Adapter interface {
	// Name returns the provider type string (e.g. "openai", "anthropic").
	Name() string

	// SupportsNativeTools reports whether this provider can accept the
	// request's tool/function-calling fields directly.
	SupportsNativeTools() bool

	// Complete performs one non-streaming chat completion dispatch.
	Complete(ctx context.Context, creds Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error)

	// Stream performs one streaming chat completion dispatch.
	Stream(ctx context.Context, creds Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error)

	// HealthCheck verifies the provider endpoint is reachable.
	HealthCheck(ctx context.Context, creds Credentials, baseURL string) (*HealthStatus, error)

	// ListModels returns the models the provider currently serves.
	ListModels(ctx context.Context, creds Credentials, baseURL string) ([]Model, error)
}

// EmbeddingAdapter is an optional capability: providers that can serve
// embeddings implement it and are found via a type assertion on the
// Adapter the registry returns, rather than widening every adapter's
// contract with a method most of them (pure chat providers) don't have.
type EmbeddingAdapter interface {
	Embed(ctx context.Context, creds Credentials, baseURL string, settings map[string]string, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error)
}
