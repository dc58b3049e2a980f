// Package bedrock adapts Amazon Bedrock's Converse API to the
// providers.Adapter contract. Bedrock fronts multiple model families
// (Anthropic, Meta, Mistral, Amazon) behind one request/response shape, so
// a single adapter covers all of them rather than one per underlying
// model — the public model name is the Bedrock model ID directly
// (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
package bedrock

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

const defaultRegion = "us-east-1"

// Provider implements providers.Adapter for Amazon Bedrock via Converse.
type Provider struct {
	logger *zap.Logger
}

// New creates the Bedrock adapter. Unlike the HTTP-based adapters, there
// is no shared *http.Client: each dispatch builds its own bedrockruntime
// client because the region and credentials are resolved per deployment
// from Credentials.Extra, not fixed at adapter construction.
func New(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{logger: logger}
}

func (p *Provider) Name() string              { return "bedrock" }
func (p *Provider) SupportsNativeTools() bool { return true }

func (p *Provider) client(ctx context.Context, creds providers.Credentials) (*bedrockruntime.Client, error) {
	region := creds.Extra["aws_region"]
	if region == "" {
		region = defaultRegion
	}
	accessKey := creds.Extra["aws_access_key_id"]
	secretKey := creds.Extra["aws_secret_access_key"]
	sessionToken := creds.Extra["aws_session_token"]

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func toBedrockMessages(msgs []types.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	out := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == types.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out, system
}

func inferenceConfig(req *types.CompletionRequest) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	if em := req.EffectiveMaxTokens(); em > 0 {
		mt := int32(em)
		cfg.MaxTokens = &mt
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP > 0 {
		tp := float32(req.TopP)
		cfg.TopP = &tp
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	return cfg
}

func extractText(content []brtypes.ContentBlock) string {
	var out string
	for _, block := range content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out += text.Value
		}
	}
	return out
}

// Complete dispatches one non-streaming Converse call.
func (p *Provider) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	cli, err := p.client(ctx, creds)
	if err != nil {
		return nil, err
	}
	messages, system := toBedrockMessages(req.Messages)

	out, err := cli.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         &req.Model,
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig(req),
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	var content string
	finishReason := normalizeStopReason(string(out.StopReason))
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		content = extractText(msgOut.Value.Content)
	}

	resp := &types.CompletionResponse{
		Provider:  p.Name(),
		Model:     req.Model,
		CreatedAt: time.Now(),
		Choices: []types.CompletionChoice{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: content},
			FinishReason: finishReason,
		}},
	}
	if out.Usage != nil {
		resp.Usage = types.Usage{
			PromptTokens:     int(derefInt32(out.Usage.InputTokens)),
			CompletionTokens: int(derefInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(derefInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// Stream dispatches a ConverseStream call, translating Bedrock's event
// stream into the gateway's StreamChunk shape.
func (p *Provider) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	cli, err := p.client(ctx, creds)
	if err != nil {
		return nil, err
	}
	messages, system := toBedrockMessages(req.Messages)

	out, err := cli.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         &req.Model,
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig(req),
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan types.StreamChunk)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()
		for event := range stream.Events() {
			switch v := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				if delta, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
					chunk := types.StreamChunk{
						Provider: p.Name(),
						Model:    req.Model,
						Delta:    types.Message{Role: types.RoleAssistant, Content: delta.Value},
					}
					select {
					case <-ctx.Done():
						return
					case ch <- chunk:
					}
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				select {
				case <-ctx.Done():
					return
				case ch <- types.StreamChunk{Provider: p.Name(), Model: req.Model, FinishReason: normalizeStopReason(string(v.Value.StopReason))}:
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage := types.Usage{
						PromptTokens:     int(derefInt32(v.Value.Usage.InputTokens)),
						CompletionTokens: int(derefInt32(v.Value.Usage.OutputTokens)),
						TotalTokens:      int(derefInt32(v.Value.Usage.TotalTokens)),
					}
					select {
					case <-ctx.Done():
						return
					case ch <- types.StreamChunk{Provider: p.Name(), Model: req.Model, Usage: &usage}:
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case <-ctx.Done():
			case ch <- types.StreamChunk{Err: mapBedrockError(err).(*types.Error)}:
			}
		}
	}()
	return ch, nil
}

// HealthCheck verifies the deployment's AWS credentials resolve to a
// usable client config. The bedrockruntime (data-plane) client this
// adapter uses has no unauthenticated ping endpoint, and model listing
// lives on the separate control-plane client this gateway doesn't wire
// up, so credential resolution is the cheapest meaningful probe available.
func (p *Provider) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	start := time.Now()
	if _, err := p.client(ctx, creds); err != nil {
		return &providers.HealthStatus{Healthy: false, Latency: time.Since(start)}, err
	}
	return &providers.HealthStatus{Healthy: true, Latency: time.Since(start)}, nil
}

// ListModels is unsupported: the bedrockruntime (data-plane) client this
// adapter uses doesn't expose foundation-model listing; that lives on the
// separate bedrock (control-plane) client, which this gateway doesn't wire
// up since deployments declare their Bedrock model IDs explicitly.
func (p *Provider) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	return nil, fmt.Errorf("bedrock: model listing not supported, deployments must declare model IDs explicitly")
}

func mapBedrockError(err error) error {
	return &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: 502, Retryable: true, Provider: "bedrock"}
}

// normalizeStopReason maps Converse API stopReason values onto the
// OpenAI-shaped finish_reason set.
func normalizeStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "guardrail_intervened", "content_filtered":
		return "content_filter"
	default:
		return "stop"
	}
}
