// Package openaicompat is the shared base for every provider adapter that
// speaks the OpenAI chat-completions wire format natively or closely
// enough to reuse it (Groq, vLLM, Ollama, Mistral, Cohere; the OpenAI
// adapter uses the official SDK instead, and the Azure adapter reuses only
// StreamSSE). One Provider instance is shared across every
// deployment of that provider type; credentials, base URL and
// provider-config settings are supplied per call since they vary per
// deployment.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gatewayllm/gatewayllm/internal/tlsutil"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
	"go.uber.org/zap"
)

// Config holds the provider-type-level (not deployment-level) behavior of
// an OpenAI-compatible adapter.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g. "groq").
	ProviderName string

	// DefaultBaseURL is used when a deployment doesn't override it.
	DefaultBaseURL string

	// FallbackModel is used when neither the request nor the deployment
	// specifies a model.
	FallbackModel string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to
	// "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders sets headers on each request. If nil, the default
	// "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// RequestHook lets a concrete provider mutate the outgoing body for
	// fields the OpenAI-compat shape doesn't cover (e.g. Cohere's
	// connectors, vLLM's guided_json).
	RequestHook func(req *types.CompletionRequest, body *providers.OpenAICompatRequest)

	// SupportsTools overrides SupportsNativeTools; defaults to true.
	SupportsTools *bool
}

// Provider is the shared OpenAI-wire-compatible adapter implementation.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates an OpenAI-compatible adapter with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) SupportsNativeTools() bool {
	if p.cfg.SupportsTools != nil {
		return *p.cfg.SupportsTools
	}
	return true
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(req, apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) resolveBaseURL(baseURL string) string {
	if baseURL != "" {
		return baseURL
	}
	return p.cfg.DefaultBaseURL
}

func (p *Provider) endpoint(baseURL, path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.resolveBaseURL(baseURL), "/"), path)
}

func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(baseURL, p.cfg.ModelsEndpoint), nil)
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
			fmt.Errorf("%s health check failed: status=%d msg=%s", p.cfg.ProviderName, resp.StatusCode, msg)
	}
	return &providers.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	return providers.ListModelsOpenAICompat(
		ctx, p.client, p.resolveBaseURL(baseURL), creds.APIKey, p.cfg.ProviderName,
		p.cfg.ModelsEndpoint, p.buildHeaders,
	)
}

func (p *Provider) buildRequestBody(req *types.CompletionRequest, stream bool) providers.OpenAICompatRequest {
	model := providers.ChooseModel(req, "", p.cfg.FallbackModel)
	body := providers.OpenAICompatRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:   req.EffectiveMaxTokens(),
		N:           req.N,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}
	if p.cfg.RequestHook != nil {
		p.cfg.RequestHook(req, &body)
	}
	return body
}

func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	body := p.buildRequestBody(req, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(baseURL, p.cfg.EndpointPath), bytes.NewReader(payload))
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(baseURL, p.cfg.EndpointPath), bytes.NewReader(payload))
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

	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// StreamSSE parses an SSE stream in the OpenAI chat-completions shape into
// a channel of StreamChunk, terminated by the literal "data: [DONE]" frame.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan types.StreamChunk {
	ch := make(chan types.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
						return
					case ch <- types.StreamChunk{Err: &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oaResp providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				select {
				case <-ctx.Done():
					return
				case ch <- types.StreamChunk{Err: &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}}:
				}
				return
			}

			for _, choice := range oaResp.Choices {
				chunk := types.StreamChunk{
					ID:           oaResp.ID,
					Provider:     providerName,
					Model:        oaResp.Model,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Delta:        types.Message{Role: types.RoleAssistant},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
					if len(choice.Delta.ToolCalls) > 0 {
						chunk.Delta.ToolCalls = make([]types.ToolCall, 0, len(choice.Delta.ToolCalls))
						for _, tc := range choice.Delta.ToolCalls {
							chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, types.ToolCall{
								ID:        tc.ID,
								Name:      tc.Function.Name,
								Arguments: tc.Function.Arguments,
							})
						}
					}
				}
				if oaResp.Usage != nil {
					chunk.Usage = &types.Usage{
						PromptTokens:     oaResp.Usage.PromptTokens,
						CompletionTokens: oaResp.Usage.CompletionTokens,
						TotalTokens:      oaResp.Usage.TotalTokens,
					}
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
		}
	}()
	return ch
}
