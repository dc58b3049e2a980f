// Package anthropic adapts Anthropic's Messages API to the providers.Adapter
// contract. Unlike the OpenAI-compatible family, Claude authenticates with
// x-api-key, carries the system prompt as a top-level field instead of a
// message, and represents content as typed blocks rather than a plain
// string — so it gets its own wire types instead of reusing openaicompat.
package anthropic

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

const defaultBaseURL = "https://api.anthropic.com"
const defaultModel = "claude-3-5-sonnet-20241022"
const apiVersion = "2023-06-01"

// Provider implements providers.Adapter for Anthropic Claude.
type Provider struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
	images  *imagefetch.Fetcher
}

// New creates the Anthropic adapter. defaultBase overrides the public
// Anthropic endpoint when serving a private gateway/proxy deployment.
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

func (p *Provider) Name() string                  { return "anthropic" }
func (p *Provider) SupportsNativeTools() bool     { return true }
func (p *Provider) resolveBaseURL(b string) string {
	if b != "" {
		return b
	}
	return p.baseURL
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	Source    *claudeImgSource `json:"source,omitempty"`
}

// claudeImgSource is Claude's inline-image block: always base64 + a
// declared media type, never a bare URL.
type claudeImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []claudeTool    `json:"tools,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Content      []claudeContent `json:"content"`
	Model        string          `json:"model"`
	StopReason   string          `json:"stop_reason"`
	StopSequence string          `json:"stop_sequence,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index,omitempty"`
	Delta        *claudeDelta    `json:"delta,omitempty"`
	ContentBlock *claudeContent  `json:"content_block,omitempty"`
	Message      *claudeResponse `json:"message,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type claudeErrorResp struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// convertToClaudeMessages splits the canonical message list into Claude's
// top-level system string plus a user/assistant content-block sequence,
// resolving any image_url blocks to inline base64 source blocks via
// imgFetcher — Claude's Messages API takes no bare image URL.
func convertToClaudeMessages(ctx context.Context, imgFetcher *imagefetch.Fetcher, msgs []types.Message) (string, []claudeMessage, error) {
	var system string
	var out []claudeMessage

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = m.Content
			continue
		}
		if m.Role == types.RoleTool {
			out = append(out, claudeMessage{
				Role: "user",
				Content: []claudeContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}

		cm := claudeMessage{Role: string(m.Role)}
		if m.Content != "" {
			cm.Content = append(cm.Content, claudeContent{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			src := img.Data
			if img.Type == "url" {
				src = img.URL
			}
			resolved, err := imgFetcher.Resolve(ctx, src)
			if err != nil {
				return "", nil, fmt.Errorf("anthropic: resolving image: %w", err)
			}
			cm.Content = append(cm.Content, claudeContent{Type: "image", Source: &claudeImgSource{
				Type:      "base64",
				MediaType: resolved.MimeType,
				Data:      base64.StdEncoding.EncodeToString(resolved.Data),
			}})
		}
		for _, tc := range m.ToolCalls {
			cm.Content = append(cm.Content, claudeContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
		}
		if len(cm.Content) > 0 {
			out = append(out, cm)
		}
	}
	return system, out, nil
}

func convertToClaudeTools(tools []types.ToolSchema) []claudeTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]claudeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, claudeTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
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

func chooseMaxTokens(req *types.CompletionRequest) int {
	if req != nil {
		if mt := req.EffectiveMaxTokens(); mt > 0 {
			return mt
		}
	}
	return 4096 // Claude rejects requests that omit max_tokens
}

func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1/models", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))
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
		msg, _ := readClaudeError(resp.Body)
		return &providers.HealthStatus{Healthy: false, Latency: latency}, fmt.Errorf("anthropic health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &providers.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	endpoint := fmt.Sprintf("%s/v1/models", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))
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
		return nil, mapClaudeErrorBody(resp.StatusCode, resp.Body, p.Name())
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	out := make([]providers.Model, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		out = append(out, providers.Model{ID: m.ID, Object: "model", OwnedBy: "anthropic"})
	}
	return out, nil
}

func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	system, messages, err := convertToClaudeMessages(ctx, p.images, req.Messages)
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	body := claudeRequest{
		Model:       chooseModel(req, settings["model"]),
		Messages:    messages,
		System:      system,
		MaxTokens:   chooseMaxTokens(req),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeq:     req.Stop,
		Tools:       convertToClaudeTools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))

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
		return nil, mapClaudeErrorBody(resp.StatusCode, resp.Body, p.Name())
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	return toCompletionResponse(claudeResp, p.Name()), nil
}

func (p *Provider) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	system, messages, err := convertToClaudeMessages(ctx, p.images, req.Messages)
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	body := claudeRequest{
		Model:     chooseModel(req, settings["model"]),
		Messages:  messages,
		System:    system,
		MaxTokens: chooseMaxTokens(req),
		Stream:    true,
		Tools:     convertToClaudeTools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.resolveBaseURL(baseURL), "/"))

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
		return nil, mapClaudeErrorBody(resp.StatusCode, resp.Body, p.Name())
	}

	return streamClaudeSSE(ctx, resp.Body, p.Name()), nil
}

func streamClaudeSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan types.StreamChunk {
	ch := make(chan types.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)

		var currentID, currentModel string
		toolCallAccumulator := make(map[int]*types.ToolCall)

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
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "event:") || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var event claudeStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				emit(types.StreamChunk{Err: &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					currentID = event.Message.ID
					currentModel = event.Message.Model
				}
			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					toolCallAccumulator[event.Index] = &types.ToolCall{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name, Arguments: json.RawMessage("{}")}
				}
			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				chunk := types.StreamChunk{ID: currentID, Provider: providerName, Model: currentModel, Index: event.Index, Delta: types.Message{Role: types.RoleAssistant}}
				switch event.Delta.Type {
				case "text_delta":
					chunk.Delta.Content = event.Delta.Text
				case "input_json_delta":
					if tc, ok := toolCallAccumulator[event.Index]; ok {
						tc.Arguments = append(tc.Arguments, []byte(event.Delta.PartialJSON)...)
					}
					continue
				}
				if !emit(chunk) {
					return
				}
			case "content_block_stop":
				if tc, ok := toolCallAccumulator[event.Index]; ok {
					if !emit(types.StreamChunk{ID: currentID, Provider: providerName, Model: currentModel, Index: event.Index, Delta: types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{*tc}}}) {
						return
					}
					delete(toolCallAccumulator, event.Index)
				}
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					if !emit(types.StreamChunk{ID: currentID, Provider: providerName, Model: currentModel, FinishReason: normalizeStopReason(event.Delta.StopReason)}) {
						return
					}
				}
			case "message_stop":
				if event.Usage != nil {
					emit(types.StreamChunk{
						ID: currentID, Provider: providerName, Model: currentModel,
						Usage: &types.Usage{
							PromptTokens:     event.Usage.InputTokens,
							CompletionTokens: event.Usage.OutputTokens,
							TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
						},
					})
				}
				return
			}
		}
	}()
	return ch
}

func toCompletionResponse(cr claudeResponse, provider string) *types.CompletionResponse {
	msg := types.Message{Role: types.RoleAssistant}
	for _, content := range cr.Content {
		switch content.Type {
		case "text":
			msg.Content += content.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: content.ID, Name: content.Name, Arguments: content.Input})
		}
	}

	resp := &types.CompletionResponse{
		ID:       cr.ID,
		Provider: provider,
		Model:    cr.Model,
		Choices:  []types.CompletionChoice{{Index: 0, FinishReason: normalizeStopReason(cr.StopReason), Message: msg}},
	}
	if cr.Usage != nil {
		resp.Usage = types.Usage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		}
	}
	return resp
}

func mapClaudeErrorBody(status int, body io.Reader, provider string) *types.Error {
	msg, errType := readClaudeError(body)
	return mapClaudeError(status, msg, errType, provider)
}

func readClaudeError(body io.Reader) (msg, errType string) {
	data, _ := io.ReadAll(body)
	var errResp claudeErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type), errResp.Error.Type
	}
	return string(data), ""
}

func mapClaudeError(status int, msg, errType, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return &types.Error{Code: types.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &types.Error{Code: types.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &types.Error{Code: types.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		msgLower := strings.ToLower(msg)
		typeLower := strings.ToLower(errType)
		if strings.Contains(typeLower, "context_length") || strings.Contains(msgLower, "context_length") || strings.Contains(msgLower, "prompt is too long") {
			return &types.Error{Code: types.ErrContextTooLong, Message: msg, HTTPStatus: status, Provider: provider}
		}
		if strings.Contains(typeLower, "content_policy") || strings.Contains(msgLower, "content_policy") || strings.Contains(msgLower, "content filtering policy") {
			return &types.Error{Code: types.ErrContentFiltered, Message: msg, HTTPStatus: status, Provider: provider}
		}
		if strings.Contains(msgLower, "credit") || strings.Contains(msgLower, "quota") {
			return &types.Error{Code: types.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &types.Error{Code: types.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &types.Error{Code: types.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case 529:
		return &types.Error{Code: types.ErrModelOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &types.Error{Code: types.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// normalizeStopReason maps Anthropic stop_reason values onto the
// OpenAI-shaped finish_reason set {stop, length, tool_calls,
// content_filter, error}. Unknown values degrade to "stop".
func normalizeStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence", "pause_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "refusal":
		return "content_filter"
	default:
		return "stop"
	}
}
