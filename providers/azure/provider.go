// Package azure adapts Azure OpenAI to the providers.Adapter contract.
// Azure reuses the OpenAI chat-completions wire shape but diverges on two
// deployment-level concerns the shared openaicompat base can't parameterize
// per call: the URL is keyed by an Azure deployment name rather than a
// model name, and auth is an "api-key" header rather than a Bearer token —
// so this adapter hand-rolls dispatch against the common.go wire types
// instead of instantiating openaicompat.Provider.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/tlsutil"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/providers/openaicompat"
	"github.com/gatewayllm/gatewayllm/types"
)

const defaultAPIVersion = "2024-06-01"

// Provider implements providers.Adapter for Azure OpenAI.
type Provider struct {
	client *http.Client
	logger *zap.Logger
}

// New creates the Azure OpenAI adapter.
func New(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{client: tlsutil.SecureHTTPClient(60 * time.Second), logger: logger}
}

func (p *Provider) Name() string              { return "azure" }
func (p *Provider) SupportsNativeTools() bool { return true }

// deploymentName resolves the Azure deployment the request targets.
// settings["deployment_id"] wins; falling back to the requested model name
// mirrors how most Azure OpenAI deployments are named after their model.
func deploymentName(settings map[string]string, req *types.CompletionRequest) string {
	if d := settings["deployment_id"]; d != "" {
		return d
	}
	if d := settings["deployment_name"]; d != "" {
		return d
	}
	return req.Model
}

func apiVersion(settings map[string]string) string {
	if v := settings["api_version"]; v != "" {
		return v
	}
	return defaultAPIVersion
}

func (p *Provider) endpoint(baseURL string, settings map[string]string, req *types.CompletionRequest) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		trimSlash(baseURL), deploymentName(settings, req), apiVersion(settings))
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) buildRequestBody(req *types.CompletionRequest, stream bool) providers.OpenAICompatRequest {
	return providers.OpenAICompatRequest{
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:   req.EffectiveMaxTokens(),
		N:           req.N,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

// HealthCheck probes a deployment's /chat/completions wiring isn't
// directly introspectable without a deployment name; Azure instead exposes
// a models list at the resource level.
func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/openai/models?api-version=%s", trimSlash(baseURL), defaultAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &providers.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &providers.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("azure health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &providers.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the models deployed under this Azure resource.
func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	return providers.ListModelsOpenAICompat(
		ctx, p.client, trimSlash(baseURL)+"/openai", creds.APIKey, "azure",
		fmt.Sprintf("/models?api-version=%s", defaultAPIVersion), p.buildHeaders,
	)
}

func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	body := p.buildRequestBody(req, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(baseURL, settings, req), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapErrorResponse(resp.StatusCode, resp.Body, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	result := providers.ToCompletionResponse(oaResp, p.Name())
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}

func (p *Provider) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	body := p.buildRequestBody(req, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(baseURL, settings, req), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, providers.MapErrorResponse(resp.StatusCode, resp.Body, p.Name())
	}

	return openaicompat.StreamSSE(ctx, resp.Body, p.Name()), nil
}
