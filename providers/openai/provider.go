// Package openai adapts OpenAI's own API to the providers.Adapter contract
// using the official openai-go SDK rather than hand-rolled HTTP, unlike the
// openaicompat family this adapter doesn't share a base with. A client is
// built per dispatch since credentials, base URL and organization/project
// settings vary per deployment while one adapter instance serves all of
// them (providers.Adapter's statelessness contract).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

const defaultModel = "gpt-4o-mini"

// Provider implements providers.Adapter and providers.EmbeddingAdapter for
// OpenAI.
type Provider struct {
	logger *zap.Logger
}

// New creates the OpenAI adapter.
func New(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{logger: logger}
}

func (p *Provider) Name() string              { return "openai" }
func (p *Provider) SupportsNativeTools() bool { return true }

func (p *Provider) client(creds providers.Credentials, baseURL string, settings map[string]string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if org := settings["organization"]; org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	if proj := settings["project"]; proj != "" {
		opts = append(opts, option.WithProject(proj))
	}
	return openai.NewClient(opts...)
}

func modelOf(req *types.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return defaultModel
}

func convertMessage(m types.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return openai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return openai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = openai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = openai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case types.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

func buildParams(req *types.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelOf(req)),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = param.NewOpt(req.TopP)
	}
	if mt := req.EffectiveMaxTokens(); mt > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(mt))
	}
	if req.N > 1 {
		params.N = param.NewOpt(int64(req.N))
	}
	if len(req.Stop) > 0 {
		params.Stop.OfStringArray = req.Stop
	}
	if req.ToolChoice != "" {
		params.ToolChoice.OfAuto = param.NewOpt(req.ToolChoice)
	}
	for _, t := range req.Tools {
		var parameters shared.FunctionParameters
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &parameters); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: invalid tool parameters for %q: %w", t.Name, err)
			}
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: param.NewOpt(t.Description),
					Parameters:  parameters,
				},
			},
		})
	}
	return params, nil
}

// Complete dispatches one non-streaming chat completion via the SDK.
func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: 400, Provider: p.Name()}
	}

	client := p.client(creds, baseURL, settings)
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: "openai: empty choices in response", HTTPStatus: 502, Retryable: true, Provider: p.Name()}
	}

	out := &types.CompletionResponse{
		ID:        resp.ID,
		Provider:  p.Name(),
		Model:     string(resp.Model),
		CreatedAt: time.Unix(resp.Created, 0),
		Usage: types.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, choice := range resp.Choices {
		msg := types.Message{Role: types.RoleAssistant, Content: choice.Message.Content}
		for _, tc := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
		out.Choices = append(out.Choices, types.CompletionChoice{
			Index:        int(choice.Index),
			Message:      msg,
			FinishReason: string(choice.FinishReason),
		})
	}
	return out, nil
}

// Stream dispatches one streaming chat completion, translating SDK stream
// events into StreamChunk frames.
func (p *Provider) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: 400, Provider: p.Name()}
	}

	client := p.client(creds, baseURL, settings)
	stream := client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, mapOpenAIError(err)
	}

	ch := make(chan types.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			for _, choice := range chunk.Choices {
				out := types.StreamChunk{
					ID:           chunk.ID,
					Provider:     p.Name(),
					Model:        string(chunk.Model),
					Index:        int(choice.Index),
					FinishReason: string(choice.FinishReason),
					Delta:        types.Message{Role: types.RoleAssistant, Content: choice.Delta.Content},
				}
				for _, tc := range choice.Delta.ToolCalls {
					out.Delta.ToolCalls = append(out.Delta.ToolCalls, types.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: []byte(tc.Function.Arguments),
					})
				}
				select {
				case <-ctx.Done():
					return
				case ch <- out:
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case <-ctx.Done():
			case ch <- types.StreamChunk{Err: mapOpenAIError(err).(*types.Error)}:
			}
		}
	}()
	return ch, nil
}

// HealthCheck probes reachability via the models list endpoint.
func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	client := p.client(creds, baseURL, nil)
	_, err := client.Models.List(ctx)
	latency := time.Since(start)
	if err != nil {
		return &providers.HealthStatus{Healthy: false, Latency: latency}, mapOpenAIError(err)
	}
	return &providers.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the models OpenAI currently serves this key.
func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	client := p.client(creds, baseURL, nil)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	out := make([]providers.Model, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, providers.Model{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
	}
	return out, nil
}

// Embed implements providers.EmbeddingAdapter against OpenAI's embeddings
// endpoint via the SDK.
func (p *Provider) Embed(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	client := p.client(creds, baseURL, settings)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(req.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	out := &types.EmbeddingResponse{
		Provider: p.Name(),
		Model:    string(resp.Model),
		Data:     make([]types.Embedding, 0, len(resp.Data)),
		Usage: types.Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, d := range resp.Data {
		out.Data = append(out.Data, types.Embedding{Index: int(d.Index), Embedding: d.Embedding})
	}
	return out, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if isAPIError(err, &apiErr) {
		// The SDK already parsed the error envelope; hand its type/code
		// through so context_length/content_policy classification fires.
		body := &providers.OpenAICompatErrorResp{}
		body.Error.Message = apiErr.Message
		body.Error.Type = apiErr.Type
		body.Error.Code = apiErr.Code
		return providers.MapHTTPErrorBody(apiErr.StatusCode, apiErr.Message, "openai", body)
	}
	return &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: 502, Retryable: true, Provider: "openai"}
}

func isAPIError(err error, target **openai.Error) bool {
	if apiErr, ok := err.(*openai.Error); ok {
		*target = apiErr
		return true
	}
	return false
}
