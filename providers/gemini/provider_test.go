package gemini

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

func TestConvertToGeminiContents_RenamesAssistantToModel(t *testing.T) {
	msgs := []types.Message{
		types.NewSystemMessage("be terse"),
		types.NewUserMessage("hi"),
		types.NewAssistantMessage("hello"),
	}

	sys, contents, err := convertToGeminiContents(context.Background(), imagefetch.New(nil), msgs)
	require.NoError(t, err)
	require.NotNil(t, sys)
	assert.Equal(t, "be terse", sys.Parts[0].Text)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
}

func TestConvertToGeminiContents_ResolvesImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer srv.Close()

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "describe", Images: []types.ImageContent{{Type: "url", URL: srv.URL}}},
	}

	_, contents, err := convertToGeminiContents(context.Background(), imagefetch.New(srv.Client()), msgs)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", contents[0].Parts[1].InlineData.MimeType)
}

func TestConvertToGeminiContents_ToolCallAndResponse(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}}},
		{Role: types.RoleTool, Name: "lookup", ToolCallID: "c1", Content: `{"result":"42"}`},
	}

	_, contents, err := convertToGeminiContents(context.Background(), imagefetch.New(nil), msgs)
	require.NoError(t, err)
	require.Len(t, contents, 2)
	require.NotNil(t, contents[0].Parts[0].FunctionCall)
	assert.Equal(t, "lookup", contents[0].Parts[0].FunctionCall.Name)
	require.NotNil(t, contents[1].Parts[0].FunctionResponse)
	assert.Equal(t, "lookup", contents[1].Parts[0].FunctionResponse.Name)
}

func TestConvertToGeminiTools(t *testing.T) {
	tools := []types.ToolSchema{
		{Name: "get_weather", Description: "fetch weather", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	out := convertToGeminiTools(tools)
	require.Len(t, out, 1)
	require.Len(t, out[0].FunctionDeclarations, 1)
	assert.Equal(t, "get_weather", out[0].FunctionDeclarations[0].Name)
}

func TestChooseModel(t *testing.T) {
	req := &types.CompletionRequest{Model: "gemini-1.5-flash"}
	assert.Equal(t, "deployment-model", chooseModel(req, "deployment-model"))
	assert.Equal(t, "gemini-1.5-flash", chooseModel(req, ""))
	assert.Equal(t, defaultModel, chooseModel(nil, ""))
}

func TestMapGeminiError_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		msg      string
		expected types.ErrorCode
	}{
		{http.StatusUnauthorized, "bad key", types.ErrUnauthorized},
		{http.StatusTooManyRequests, "slow down", types.ErrRateLimited},
		{http.StatusBadRequest, "quota exceeded", types.ErrQuotaExceeded},
		{http.StatusBadRequest, "bad param", types.ErrInvalidRequest},
		{http.StatusInternalServerError, "oops", types.ErrUpstreamError},
	}
	for _, tt := range tests {
		err := mapGeminiError(tt.status, tt.msg, "gemini")
		assert.Equal(t, tt.expected, err.Code, tt.msg)
	}
}

func TestProvider_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		resp := geminiResponse{
			ResponseID: "resp_1",
			Candidates: []geminiCandidate{
				{Index: 0, FinishReason: "STOP", Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: "hi there"}}}},
			},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 2, TotalTokenCount: 6},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New(srv.URL, 0, zap.NewNop())
	req := &types.CompletionRequest{Model: "gemini-1.5-flash", Messages: []types.Message{types.NewUserMessage("hi")}}

	resp, err := p.Complete(context.Background(), providers.Credentials{APIKey: "test-key"}, "", nil, req)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestProvider_Complete_MapsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(geminiErrorResp{Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		}{Code: 403, Message: "disabled API", Status: "PERMISSION_DENIED"}})
	}))
	defer srv.Close()

	p := New(srv.URL, 0, zap.NewNop())
	req := &types.CompletionRequest{Messages: []types.Message{types.NewUserMessage("hi")}}

	_, err := p.Complete(context.Background(), providers.Credentials{APIKey: "k"}, "", nil, req)
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrForbidden, gwErr.Code)
}

func TestProvider_Name(t *testing.T) {
	p := New("", 0, zap.NewNop())
	assert.Equal(t, "gemini", p.Name())
	assert.True(t, p.SupportsNativeTools())
}
