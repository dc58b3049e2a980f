package gwerrors

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayllm/gatewayllm/types"
)

func TestConstructors_SetExpectedCodeStatusAndRetryable(t *testing.T) {
	cases := []struct {
		name      string
		build     func() *types.Error
		code      types.ErrorCode
		status    int
		retryable bool
	}{
		{"Authentication", func() *types.Error { return Authentication("bad token") }, types.ErrAuthentication, 401, false},
		{"PermissionDenied", func() *types.Error { return PermissionDenied("nope") }, types.ErrPermissionDenied, 403, false},
		{"NotFound", func() *types.Error { return NotFound("missing") }, types.ErrNotFound, 404, false},
		{"BadRequest", func() *types.Error { return BadRequest("bad") }, types.ErrInvalidRequest, 400, false},
		{"ContextLengthExceeded", func() *types.Error { return ContextLengthExceeded("too long") }, types.ErrContextLength, 400, false},
		{"ContentPolicyViolation", func() *types.Error { return ContentPolicyViolation("blocked") }, types.ErrContentPolicy, 400, false},
		{"Timeout", func() *types.Error { return Timeout("slow") }, types.ErrTimeout, 504, true},
		{"Connection", func() *types.Error { return Connection("down") }, types.ErrConnection, 502, true},
		{"ServiceUnavailable", func() *types.Error { return ServiceUnavailable("busy") }, types.ErrServiceUnavailable, 503, true},
		{"ApiError", func() *types.Error { return ApiError("oops") }, types.ErrApiError, 500, true},
		{"BudgetExceeded", func() *types.Error { return BudgetExceeded("over") }, types.ErrBudgetExceeded, 429, false},
		{"ModelNotSupported", func() *types.Error { return ModelNotSupported("unknown model") }, types.ErrModelNotSupported, 400, false},
		{"NoHealthyDeployments", func() *types.Error { return NoHealthyDeployments("none healthy") }, types.ErrRouterUnavailable, 503, false},
		{"RouterMisconfigured", func() *types.Error { return RouterMisconfigured("bad row") }, types.ErrRouterMisconfigured, 500, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.build()
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.status, e.HTTPStatus)
			assert.Equal(t, tc.retryable, e.Retryable)
		})
	}
}

func TestRateLimit_CarriesRetryAfter(t *testing.T) {
	e := RateLimit("slow down", 30)
	assert.Equal(t, types.ErrRateLimit, e.Code)
	assert.Equal(t, 429, e.HTTPStatus)
	assert.True(t, e.Retryable)
	assert.Equal(t, 30, e.RetryAfterSeconds)
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(Timeout("slow")))
	assert.False(t, Retriable(Authentication("bad")))
	assert.False(t, Retriable(errors.New("unclassified")))
}

func TestMapHTTPError_StatusCodeSwitch(t *testing.T) {
	cases := []struct {
		status int
		code   types.ErrorCode
	}{
		{400, types.ErrInvalidRequest},
		{401, types.ErrAuthentication},
		{403, types.ErrPermissionDenied},
		{404, types.ErrNotFound},
		{429, types.ErrRateLimit},
		{500, types.ErrApiError},
		{502, types.ErrApiError},
		{503, types.ErrServiceUnavailable},
		{504, types.ErrTimeout},
	}
	for _, tc := range cases {
		e := MapHTTPError("openai", tc.status, "", "", "boom")
		assert.Equalf(t, tc.code, e.Code, "status %d", tc.status)
		assert.Equal(t, "openai", e.Provider)
	}
}

func TestMapHTTPError_400ContextLengthBodySubstring(t *testing.T) {
	e := MapHTTPError("openai", 400, "", "", "This model's maximum context length is 4096 tokens")
	assert.Equal(t, types.ErrContextLength, e.Code)
}

func TestMapHTTPError_400ContentPolicyCode(t *testing.T) {
	e := MapHTTPError("openai", 400, "content_policy_violation", "", "")
	assert.Equal(t, types.ErrContentPolicy, e.Code)
}

func TestMapHTTPError_UnknownStatusOverloadedBody(t *testing.T) {
	e := MapHTTPError("anthropic", 529, "", "", "the server is overloaded_error")
	assert.Equal(t, types.ErrServiceUnavailable, e.Code)
}

func TestMapHTTPError_UnknownStatus5xxFallsBackToApiError(t *testing.T) {
	e := MapHTTPError("groq", 599, "", "", "mystery failure")
	assert.Equal(t, types.ErrApiError, e.Code)
}

func TestMapHTTPErrorWithRetryAfter_ParsesHeaderOnRateLimit(t *testing.T) {
	e := MapHTTPErrorWithRetryAfter("openai", 429, "", "", "slow down", "12")
	assert.Equal(t, types.ErrRateLimit, e.Code)
	assert.Equal(t, 12, e.RetryAfterSeconds)
}

func TestMapHTTPErrorWithRetryAfter_IgnoresMalformedHeader(t *testing.T) {
	e := MapHTTPErrorWithRetryAfter("openai", 429, "", "", "slow down", "not-a-number")
	assert.Equal(t, 0, e.RetryAfterSeconds)
}

func TestMapTransportError_Nil(t *testing.T) {
	assert.Nil(t, MapTransportError("openai", nil))
}

func TestMapTransportError_DeadlineExceeded(t *testing.T) {
	e := MapTransportError("openai", context.DeadlineExceeded)
	require.NotNil(t, e)
	assert.Equal(t, types.ErrTimeout, e.Code)
}

func TestMapTransportError_Canceled(t *testing.T) {
	e := MapTransportError("openai", context.Canceled)
	require.NotNil(t, e)
	assert.Equal(t, types.ErrConnection, e.Code)
}

func TestMapTransportError_NetTimeout(t *testing.T) {
	e := MapTransportError("openai", &net.DNSError{IsTimeout: true})
	require.NotNil(t, e)
	assert.Equal(t, types.ErrTimeout, e.Code)
}

func TestMapTransportError_GenericFallsBackToConnection(t *testing.T) {
	e := MapTransportError("openai", errors.New("connection refused"))
	require.NotNil(t, e)
	assert.Equal(t, types.ErrConnection, e.Code)
}
