// Package gemini adapts Google's Generative Language API to the
// providers.Adapter contract. Gemini authenticates with x-goog-api-key,
// names the model in the URL path rather than the body, renames the
// assistant role to "model", and streams newline-delimited JSON objects
// instead of SSE "data:" frames.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gatewayllm/gatewayllm/internal/imagefetch"
	"github.com/gatewayllm/gatewayllm/internal/tlsutil"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"
const defaultModel = "gemini-3-pro"

// Provider implements providers.Adapter for Google Gemini.
type Provider struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
	images  *imagefetch.Fetcher
}

func New(defaultBase string, timeout time.Duration, logger *zap.Logger) *Provider {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if defaultBase == "" {
		defaultBase = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{client: tlsutil.SecureHTTPClient(timeout), logger: logger, baseURL: defaultBase, images: imagefetch.New(nil)}
}

func (p *Provider) Name() string              { return "gemini" }
func (p *Provider) SupportsNativeTools() bool { return true }

func (p *Provider) resolveBaseURL(b string) string {
	if b != "" {
		return b
	}
	return p.baseURL
}

func buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// convertToGeminiContents translates the canonical message list, resolving
// any image_url content blocks to inline base64 bytes (Gemini's wire
// format has no URL-passthrough option, unlike OpenAI's) via imgFetcher.
func convertToGeminiContents(ctx context.Context, imgFetcher *imagefetch.Fetcher, msgs []types.Message) (*geminiContent, []geminiContent, error) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}

		if m.Content != "" && !(m.Role == types.RoleTool && m.ToolCallID != "") {
			content.Parts = append(content.Parts, geminiPart{Text: m.Content})
		}
		for _, img := range m.Images {
			src := img.Data
			if img.Type == "url" {
				src = img.URL
			}
			resolved, err := imgFetcher.Resolve(ctx, src)
			if err != nil {
				return nil, nil, fmt.Errorf("gemini: resolving image: %w", err)
			}
			content.Parts = append(content.Parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: resolved.MimeType,
				Data:     base64.StdEncoding.EncodeToString(resolved.Data),
			}})
		}
		for _, tc := range m.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal(tc.Arguments, &args); err == nil {
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args}})
			}
		}
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			var response map[string]interface{}
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]interface{}{"result": m.Content}
			}
			content.Parts = append(content.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{Name: m.Name, Response: response}})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return systemInstruction, contents, nil
}

func convertToGeminiTools(tools []types.ToolSchema) []geminiTool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var params map[string]interface{}
		if err := json.Unmarshal(t.Parameters, &params); err == nil {
			declarations = append(declarations, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: params})
		}
	}
	if len(declarations) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: declarations}}
}

func chooseModel(req *types.CompletionRequest, deploymentModel string) string {
	if deploymentModel != "" {
		return deploymentModel
	}
	if req != nil && req.Model != "" {
		return req.Model
	}
	return defaultModel
}

func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &providers.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readGeminiErrMsg(resp.Body)
		return &providers.HealthStatus{Healthy: false, Latency: latency}, fmt.Errorf("gemini health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &providers.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var modelsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	models := make([]providers.Model, 0, len(modelsResp.Models))
	for _, m := range modelsResp.Models {
		models = append(models, providers.Model{ID: strings.TrimPrefix(m.Name, "models/"), Object: "model", OwnedBy: "google"})
	}
	return models, nil
}

func (p *Provider) buildBody(ctx context.Context, req *types.CompletionRequest, settings map[string]string) (geminiRequest, string, error) {
	systemInstruction, contents, err := convertToGeminiContents(ctx, p.images, req.Messages)
	if err != nil {
		return geminiRequest{}, "", &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	body := geminiRequest{Contents: contents, Tools: convertToGeminiTools(req.Tools), SystemInstruction: systemInstruction}
	if req.Temperature > 0 || req.TopP > 0 || req.EffectiveMaxTokens() > 0 || len(req.Stop) > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.EffectiveMaxTokens(),
			StopSequences:   req.Stop,
		}
	}
	return body, chooseModel(req, settings["model"]), nil
}

func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	body, model, err := p.buildBody(ctx, req, settings)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.resolveBaseURL(baseURL), "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	return toCompletionResponse(geminiResp, p.Name(), model), nil
}

func (p *Provider) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	body, model, err := p.buildBody(ctx, req, settings)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent", strings.TrimRight(p.resolveBaseURL(baseURL), "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	buildHeaders(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	return streamGeminiLines(ctx, resp.Body, p.Name(), model), nil
}

// streamGeminiLines parses Gemini's newline-delimited-JSON stream (one
// complete geminiResponse object per line, not SSE "data:" framing).
func streamGeminiLines(ctx context.Context, body io.ReadCloser, providerName, model string) <-chan types.StreamChunk {
	ch := make(chan types.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)

		emit := func(c types.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(types.StreamChunk{Err: &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}})
				}
				return
			}
			line = strings.TrimSpace(strings.Trim(line, "[],"))
			if line == "" {
				continue
			}

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(line), &geminiResp); err != nil {
				continue
			}

			for _, candidate := range geminiResp.Candidates {
				chunk := types.StreamChunk{Provider: providerName, Model: model, Index: candidate.Index, Delta: types.Message{Role: types.RoleAssistant}}
				toolCallIndex := 0
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						chunk.Delta.Content += part.Text
					}
					if part.FunctionCall != nil {
						argsJSON, _ := json.Marshal(part.FunctionCall.Args)
						chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, types.ToolCall{
							ID:        fmt.Sprintf("call_%s_%d_%d", part.FunctionCall.Name, candidate.Index, toolCallIndex),
							Name:      part.FunctionCall.Name,
							Arguments: argsJSON,
						})
						toolCallIndex++
					}
				}
				chunk.FinishReason = normalizeFinishReason(candidate.FinishReason, len(chunk.Delta.ToolCalls) > 0)
				if !emit(chunk) {
					return
				}
			}

			if geminiResp.UsageMetadata != nil {
				if !emit(types.StreamChunk{
					Provider: providerName, Model: model,
					Usage: &types.Usage{
						PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
						CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
						TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
					},
				}) {
					return
				}
			}
		}
	}()
	return ch
}

func toCompletionResponse(gr geminiResponse, provider, model string) *types.CompletionResponse {
	choices := make([]types.CompletionChoice, 0, len(gr.Candidates))
	for _, candidate := range gr.Candidates {
		msg := types.Message{Role: types.RoleAssistant}
		toolCallIndex := 0
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				toolCallID := fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, toolCallIndex)
				if gr.ResponseID != "" {
					toolCallID = fmt.Sprintf("call_%s_%s_%d", gr.ResponseID, part.FunctionCall.Name, toolCallIndex)
				}
				msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: toolCallID, Name: part.FunctionCall.Name, Arguments: argsJSON})
				toolCallIndex++
			}
		}
		choices = append(choices, types.CompletionChoice{Index: candidate.Index, FinishReason: normalizeFinishReason(candidate.FinishReason, len(msg.ToolCalls) > 0), Message: msg})
	}

	resp := &types.CompletionResponse{ID: gr.ResponseID, Provider: provider, Model: model, Choices: choices}
	if gr.UsageMetadata != nil {
		resp.Usage = types.Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp
}

func readGeminiErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

func mapGeminiError(status int, msg string, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return &types.Error{Code: types.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &types.Error{Code: types.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &types.Error{Code: types.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			return &types.Error{Code: types.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &types.Error{Code: types.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &types.Error{Code: types.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &types.Error{Code: types.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// normalizeFinishReason maps Gemini finishReason values onto the
// OpenAI-shaped finish_reason set. Gemini reports STOP even when the model
// answered with a function call, so hasToolCalls promotes that case to
// "tool_calls".
func normalizeFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		if hasToolCalls {
			return "tool_calls"
		}
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "IMAGE_SAFETY":
		return "content_filter"
	case "MALFORMED_FUNCTION_CALL", "OTHER":
		return "error"
	default:
		return "stop"
	}
}
