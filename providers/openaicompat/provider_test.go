package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

func TestProvider_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body providers.OpenAICompatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)

		resp := providers.OpenAICompatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []providers.OpenAICompatChoice{
				{Index: 0, FinishReason: "stop", Message: providers.OpenAICompatMessage{Role: "assistant", Content: "hi there"}},
			},
			Usage: &providers.OpenAICompatUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "groq", DefaultBaseURL: srv.URL, FallbackModel: "gpt-4o-mini"}, zap.NewNop())
	req := &types.CompletionRequest{Messages: []types.Message{types.NewUserMessage("hi")}}

	resp, err := p.Complete(context.Background(), providers.Credentials{APIKey: "test-key"}, "", nil, req)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestProvider_Complete_MapsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "groq", DefaultBaseURL: srv.URL}, zap.NewNop())
	req := &types.CompletionRequest{Model: "llama3", Messages: []types.Message{types.NewUserMessage("hi")}}

	_, err := p.Complete(context.Background(), providers.Credentials{APIKey: "bad"}, "", nil, req)
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnauthorized, gwErr.Code)
}

func TestProvider_Complete_UsesCustomBuildHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("api-key")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{ID: "1", Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Content: "ok"}}}})
	}))
	defer srv.Close()

	cfg := Config{
		ProviderName:   "azure",
		DefaultBaseURL: srv.URL,
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("api-key", apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
	}
	p := New(cfg, zap.NewNop())
	req := &types.CompletionRequest{Model: "gpt-4o", Messages: []types.Message{types.NewUserMessage("hi")}}

	_, err := p.Complete(context.Background(), providers.Credentials{APIKey: "azure-key"}, "", nil, req)
	require.NoError(t, err)
	assert.Equal(t, "azure-key", gotHeader)
}

func TestProvider_Complete_RequestHookInvoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{ID: "1", Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Content: "ok"}}}})
	}))
	defer srv.Close()

	var hookedModel string
	cfg := Config{
		ProviderName:   "vllm",
		DefaultBaseURL: srv.URL,
		RequestHook: func(req *types.CompletionRequest, body *providers.OpenAICompatRequest) {
			hookedModel = body.Model
		},
	}
	p := New(cfg, zap.NewNop())
	req := &types.CompletionRequest{Model: "llama3", Messages: []types.Message{types.NewUserMessage("hi")}}

	_, err := p.Complete(context.Background(), providers.Credentials{APIKey: "k"}, "", nil, req)
	require.NoError(t, err)
	assert.Equal(t, "llama3", hookedModel)
}

func TestProvider_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "openai", DefaultBaseURL: srv.URL}, zap.NewNop())
	status, err := p.HealthCheck(context.Background(), providers.Credentials{APIKey: "k"}, "")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestProvider_SupportsNativeTools_Override(t *testing.T) {
	no := false
	p := New(Config{ProviderName: "ollama", SupportsTools: &no}, zap.NewNop())
	assert.False(t, p.SupportsNativeTools())

	p2 := New(Config{ProviderName: "openai"}, zap.NewNop())
	assert.True(t, p2.SupportsNativeTools())
}

func TestStreamSSE_ParsesChunksAndStopsAtDone(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		w := bufio.NewWriter(pw)
		chunk := providers.OpenAICompatResponse{
			ID:    "chatcmpl-2",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{
				{Index: 0, Delta: &providers.OpenAICompatMessage{Content: "hel"}},
			},
		}
		data, _ := json.Marshal(chunk)
		_, _ = w.WriteString("data: " + string(data) + "\n")
		_, _ = w.WriteString("data: [DONE]\n")
		_ = w.Flush()
		_ = pw.Close()
	}()

	ch := StreamSSE(context.Background(), pr, "openai")
	var got []types.StreamChunk
	for c := range ch {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "hel", got[0].Delta.Content)
}
