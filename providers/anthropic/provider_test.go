package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/imagefetch"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

func TestConvertToClaudeMessages_SplitsSystemAndToolResult(t *testing.T) {
	msgs := []types.Message{
		types.NewSystemMessage("be helpful"),
		types.NewUserMessage("hi"),
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}},
		types.NewToolMessage("call_1", "lookup", "42"),
	}

	system, out, err := convertToClaudeMessages(context.Background(), imagefetch.New(nil), msgs)
	require.NoError(t, err)
	assert.Equal(t, "be helpful", system)
	require.Len(t, out, 3)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
	require.Len(t, out[1].Content, 1)
	assert.Equal(t, "tool_use", out[1].Content[0].Type)
	assert.Equal(t, "user", out[2].Role)
	assert.Equal(t, "tool_result", out[2].Content[0].Type)
	assert.Equal(t, "call_1", out[2].Content[0].ToolUseID)
}

func TestConvertToClaudeMessages_ResolvesImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	msgs := []types.Message{
		{
			Role:    types.RoleUser,
			Content: "what's this?",
			Images:  []types.ImageContent{{Type: "url", URL: srv.URL}},
		},
	}

	_, out, err := convertToClaudeMessages(context.Background(), imagefetch.New(srv.Client()), msgs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	assert.Equal(t, "text", out[0].Content[0].Type)
	assert.Equal(t, "image", out[0].Content[1].Type)
	require.NotNil(t, out[0].Content[1].Source)
	assert.Equal(t, "image/png", out[0].Content[1].Source.MediaType)
}

func TestConvertToClaudeMessages_ImageResolutionError(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Images: []types.ImageContent{{Type: "url", URL: "ftp://nope"}}},
	}

	_, _, err := convertToClaudeMessages(context.Background(), imagefetch.New(nil), msgs)
	require.Error(t, err)
}

func TestChooseModel_PrefersDeploymentModel(t *testing.T) {
	req := &types.CompletionRequest{Model: "claude-3-opus"}
	assert.Equal(t, "claude-3-5-sonnet-custom", chooseModel(req, "claude-3-5-sonnet-custom"))
	assert.Equal(t, "claude-3-opus", chooseModel(req, ""))
	assert.Equal(t, defaultModel, chooseModel(nil, ""))
}

func TestChooseMaxTokens_DefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, 4096, chooseMaxTokens(&types.CompletionRequest{}))
	assert.Equal(t, 2048, chooseMaxTokens(&types.CompletionRequest{MaxTokens: 2048}))
}

func TestMapClaudeError_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		msg      string
		errType  string
		expected types.ErrorCode
	}{
		{http.StatusUnauthorized, "bad key", "authentication_error", types.ErrUnauthorized},
		{http.StatusForbidden, "nope", "permission_error", types.ErrForbidden},
		{http.StatusTooManyRequests, "slow down", "rate_limit_error", types.ErrRateLimited},
		{http.StatusBadRequest, "quota exceeded", "invalid_request_error", types.ErrQuotaExceeded},
		{http.StatusBadRequest, "bad field", "invalid_request_error", types.ErrInvalidRequest},
		{529, "overloaded", "overloaded_error", types.ErrModelOverloaded},
		{http.StatusInternalServerError, "oops", "api_error", types.ErrUpstreamError},
	}
	for _, tt := range tests {
		err := mapClaudeError(tt.status, tt.msg, tt.errType, "anthropic")
		assert.Equal(t, tt.expected, err.Code, tt.msg)
	}
}

// Context-length and content-policy rejections both arrive as 400
// invalid_request_error; the message/type substrings must split them into
// their own codes, still at HTTP 400.
func TestMapClaudeError_ContextLengthAndContentPolicy(t *testing.T) {
	err := mapClaudeError(http.StatusBadRequest, "prompt is too long: 250000 tokens > 200000 maximum", "invalid_request_error", "anthropic")
	assert.Equal(t, types.ErrContextTooLong, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	err = mapClaudeError(http.StatusBadRequest, "Output blocked by content filtering policy", "invalid_request_error", "anthropic")
	assert.Equal(t, types.ErrContentFiltered, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
}

func TestProvider_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		resp := claudeResponse{
			ID:         "msg_1",
			Model:      "claude-3-5-sonnet-20241022",
			StopReason: "end_turn",
			Content:    []claudeContent{{Type: "text", Text: "hello there"}},
			Usage:      &claudeUsage{InputTokens: 3, OutputTokens: 2},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New(srv.URL, 0, zap.NewNop())
	req := &types.CompletionRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []types.Message{types.NewUserMessage("hi")},
	}

	resp, err := p.Complete(context.Background(), providers.Credentials{APIKey: "test-key"}, "", nil, req)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestProvider_Complete_MapsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(claudeErrorResp{Type: "error", Error: struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{Type: "rate_limit_error", Message: "slow down"}})
	}))
	defer srv.Close()

	p := New(srv.URL, 0, zap.NewNop())
	req := &types.CompletionRequest{Messages: []types.Message{types.NewUserMessage("hi")}}

	_, err := p.Complete(context.Background(), providers.Credentials{APIKey: "k"}, "", nil, req)
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrRateLimited, gwErr.Code)
	assert.True(t, gwErr.Retryable)
}

func TestProvider_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, 0, zap.NewNop())
	status, err := p.HealthCheck(context.Background(), providers.Credentials{APIKey: "k"}, "")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestProvider_Name(t *testing.T) {
	p := New("", 0, zap.NewNop())
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsNativeTools())
}
