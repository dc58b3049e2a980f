package providers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayllm/gatewayllm/types"
)

// TestMapHTTPError_StatusCodes covers the uniform error taxonomy mapping
// for every status code it names.
func TestMapHTTPError_StatusCodes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		msg           string
		expectedCode  types.ErrorCode
		expectedRetry bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, "bad key", types.ErrUnauthorized, false},
		{"403 forbidden", http.StatusForbidden, "no access", types.ErrForbidden, false},
		{"404 not found", http.StatusNotFound, "no such model", types.ErrModelNotFound, false},
		{"429 rate limited", http.StatusTooManyRequests, "slow down", types.ErrRateLimited, true},
		{"400 invalid", http.StatusBadRequest, "bad param", types.ErrInvalidRequest, false},
		{"400 quota", http.StatusBadRequest, "quota exceeded for this key", types.ErrQuotaExceeded, false},
		{"503 service unavailable", http.StatusServiceUnavailable, "down", types.ErrServiceUnavailable, true},
		{"502 bad gateway", http.StatusBadGateway, "upstream broke", types.ErrUpstreamError, true},
		{"504 gateway timeout", http.StatusGatewayTimeout, "too slow", types.ErrUpstreamTimeout, true},
		{"529 overloaded", 529, "overloaded", types.ErrModelOverloaded, true},
		{"500 generic", http.StatusInternalServerError, "oops", types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, tt.msg, "test-provider")
			require.NotNil(t, err)
			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.expectedRetry, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "test-provider", err.Provider)
		})
	}
}

// TestMapHTTPErrorBody_ContextLengthAndContentPolicy covers the
// provider-error-body substring special-casing:
// context_length_exceeded and content_policy* both arrive as HTTP 400 but
// must map to distinct error codes.
func TestMapHTTPErrorBody_ContextLengthAndContentPolicy(t *testing.T) {
	ctxLenBody := &OpenAICompatErrorResp{}
	ctxLenBody.Error.Type = "invalid_request_error"
	ctxLenBody.Error.Code = "context_length_exceeded"

	err := MapHTTPErrorBody(http.StatusBadRequest, "too many tokens", "openai", ctxLenBody)
	assert.Equal(t, types.ErrContextTooLong, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	policyBody := &OpenAICompatErrorResp{}
	policyBody.Error.Type = "content_policy_violation"

	err = MapHTTPErrorBody(http.StatusBadRequest, "blocked", "openai", policyBody)
	assert.Equal(t, types.ErrContentFiltered, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
}

// TestMapErrorResponse_ParsesBodyForClassification drives the same
// special-casing through the call HTTP adapters actually make on a >=400
// response, where the body arrives as a raw reader rather than a
// pre-parsed envelope.
func TestMapErrorResponse_ParsesBodyForClassification(t *testing.T) {
	body := []byte(`{"error":{"message":"this model's maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`)
	err := MapErrorResponse(http.StatusBadRequest, bytes.NewReader(body), "openai")
	assert.Equal(t, types.ErrContextTooLong, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	body = []byte(`{"error":{"message":"flagged","type":"content_policy_violation"}}`)
	err = MapErrorResponse(http.StatusBadRequest, bytes.NewReader(body), "openai")
	assert.Equal(t, types.ErrContentFiltered, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	// A body without the special substrings falls back to per-status
	// mapping.
	body = []byte(`{"error":{"message":"bad param","type":"invalid_request_error"}}`)
	err = MapErrorResponse(http.StatusBadRequest, bytes.NewReader(body), "openai")
	assert.Equal(t, types.ErrInvalidRequest, err.Code)
}

func TestReadErrorMessage_ParsesEnvelope(t *testing.T) {
	body := []byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	msg := ReadErrorMessage(bytes.NewReader(body))
	assert.Contains(t, msg, "invalid api key")
	assert.Contains(t, msg, "invalid_request_error")
}

func TestReadErrorMessage_FallsBackToRawBody(t *testing.T) {
	body := []byte(`not json at all`)
	msg := ReadErrorMessage(bytes.NewReader(body))
	assert.Equal(t, "not json at all", msg)
}

func TestConvertMessagesToOpenAI_PreservesToolCalls(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"nyc"}`)},
			},
		},
		{Role: types.RoleTool, ToolCallID: "call_1", Content: "72F"},
	}

	out := ConvertMessagesToOpenAI(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, "hi", out[0].Content)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "get_weather", out[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[2].ToolCallID)
}

func TestChooseModel_Precedence(t *testing.T) {
	req := &types.CompletionRequest{Model: "gpt-4o"}
	assert.Equal(t, "deployment-model", ChooseModel(req, "deployment-model", "fallback"))
	assert.Equal(t, "gpt-4o", ChooseModel(req, "", "fallback"))
	assert.Equal(t, "fallback", ChooseModel(nil, "", "fallback"))
}

func TestToCompletionResponse_MapsUsageAndToolCalls(t *testing.T) {
	oa := OpenAICompatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []OpenAICompatChoice{
			{
				Index:        0,
				FinishReason: "tool_calls",
				Message: OpenAICompatMessage{
					Content: "",
					ToolCalls: []OpenAICompatToolCall{
						{ID: "call_1", Function: OpenAICompatFunction{Name: "lookup", Arguments: json.RawMessage(`{}`)}},
					},
				},
			},
		},
		Usage: &OpenAICompatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	resp := ToCompletionResponse(oa, "openai")
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.Choices[0].Message.ToolCalls[0].Name)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}
