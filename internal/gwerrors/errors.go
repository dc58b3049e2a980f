// Package gwerrors builds the gateway's uniform error taxonomy on
// top of types.Error, and classifies transport/HTTP outcomes from upstream
// providers into it. Adapters and the router share these constructors so
// that retry/fallback decisions (internal/router) and HTTP status mapping
// (internal/gateway) read off one field: Retryable.
package gwerrors

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/gatewayllm/gatewayllm/types"
)

// Authentication reports a missing or invalid bearer token.
func Authentication(msg string) *types.Error {
	return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(401).WithRetryable(false)
}

// PermissionDenied reports a model or scope the caller cannot use.
func PermissionDenied(msg string) *types.Error {
	return types.NewError(types.ErrPermissionDenied, msg).WithHTTPStatus(403).WithRetryable(false)
}

// NotFound reports an unknown model or resource.
func NotFound(msg string) *types.Error {
	return types.NewError(types.ErrNotFound, msg).WithHTTPStatus(404).WithRetryable(false)
}

// RateLimit reports a 429 from upstream or an internal quota hit.
func RateLimit(msg string, retryAfterSeconds int) *types.Error {
	return types.NewError(types.ErrRateLimit, msg).WithHTTPStatus(429).WithRetryable(true).WithRetryAfter(retryAfterSeconds)
}

// BadRequest reports a schema or parameter validation failure.
func BadRequest(msg string) *types.Error {
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(400).WithRetryable(false)
}

// ContextLengthExceeded reports a prompt larger than the model's window.
func ContextLengthExceeded(msg string) *types.Error {
	return types.NewError(types.ErrContextLength, msg).WithHTTPStatus(400).WithRetryable(false)
}

// ContentPolicyViolation reports a provider safety block.
func ContentPolicyViolation(msg string) *types.Error {
	return types.NewError(types.ErrContentPolicy, msg).WithHTTPStatus(400).WithRetryable(false)
}

// Timeout reports a deadline exceeded on dispatch.
func Timeout(msg string) *types.Error {
	return types.NewError(types.ErrTimeout, msg).WithHTTPStatus(504).WithRetryable(true)
}

// Connection reports a transport-level failure reaching the provider.
func Connection(msg string) *types.Error {
	return types.NewError(types.ErrConnection, msg).WithHTTPStatus(502).WithRetryable(true)
}

// ServiceUnavailable reports a 503 or an "overloaded" upstream condition.
func ServiceUnavailable(msg string) *types.Error {
	return types.NewError(types.ErrServiceUnavailable, msg).WithHTTPStatus(503).WithRetryable(true)
}

// ApiError reports any other non-2xx upstream response.
func ApiError(msg string) *types.Error {
	return types.NewError(types.ErrApiError, msg).WithHTTPStatus(500).WithRetryable(true)
}

// BudgetExceeded reports the caller's spend meeting or exceeding max_budget.
func BudgetExceeded(msg string) *types.Error {
	return types.NewError(types.ErrBudgetExceeded, msg).WithHTTPStatus(429).WithRetryable(false)
}

// ModelNotSupported reports no adapter or deployment exists for a model.
func ModelNotSupported(msg string) *types.Error {
	return types.NewError(types.ErrModelNotSupported, msg).WithHTTPStatus(400).WithRetryable(false)
}

// NoHealthyDeployments reports the router exhausting every candidate.
func NoHealthyDeployments(msg string) *types.Error {
	return types.NewError(types.ErrRouterUnavailable, msg).WithHTTPStatus(503).WithRetryable(false)
}

// RouterMisconfigured reports a deployment row the router can never
// dispatch to — e.g. a standalone deployment with no provider_type —
// surfaced immediately rather than treated as just another unhealthy
// candidate.
func RouterMisconfigured(msg string) *types.Error {
	return types.NewError(types.ErrRouterMisconfigured, msg).WithHTTPStatus(500).WithRetryable(false)
}

// Retriable reports whether err should drive another routing attempt;
// non-retriable kinds short-circuit the retry/fallback loop.
func Retriable(err error) bool {
	var e *types.Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	// An error that didn't go through classification (a bug, effectively)
	// is treated as non-retriable so it surfaces rather than loops forever.
	return false
}

// MapHTTPError classifies one upstream HTTP response into the taxonomy.
// providerCode/providerType are the provider's own error "code"/"type"
// fields (when present in the JSON error body); bodyText is the raw body,
// scanned for well-known provider error substrings.
func MapHTTPError(provider string, status int, providerCode, providerType, bodyText string) *types.Error {
	lowerCode := strings.ToLower(providerCode)
	lowerType := strings.ToLower(providerType)
	lowerBody := strings.ToLower(bodyText)

	switch status {
	case 400:
		if strings.Contains(lowerCode, "context_length_exceeded") || strings.Contains(lowerBody, "context_length_exceeded") || strings.Contains(lowerBody, "maximum context length") {
			return ContextLengthExceeded(bodyText).WithProvider(provider)
		}
		if strings.HasPrefix(lowerCode, "content_policy") || strings.HasPrefix(lowerType, "content_policy") || strings.Contains(lowerBody, "content_policy") || strings.Contains(lowerBody, "content filtered") {
			return ContentPolicyViolation(bodyText).WithProvider(provider)
		}
		return BadRequest(bodyText).WithProvider(provider)
	case 401:
		return Authentication(bodyText).WithProvider(provider)
	case 403:
		return PermissionDenied(bodyText).WithProvider(provider)
	case 404:
		return NotFound(bodyText).WithProvider(provider)
	case 429:
		return RateLimit(bodyText, 0).WithProvider(provider)
	case 500, 502:
		return ApiError(bodyText).WithProvider(provider)
	case 503:
		return ServiceUnavailable(bodyText).WithProvider(provider)
	case 504:
		return Timeout(bodyText).WithProvider(provider)
	default:
		if strings.Contains(lowerBody, "overloaded") {
			return ServiceUnavailable(bodyText).WithProvider(provider)
		}
		if status >= 500 {
			return ApiError(bodyText).WithProvider(provider)
		}
		return BadRequest(bodyText).WithProvider(provider)
	}
}

// MapHTTPErrorWithRetryAfter is MapHTTPError plus a parsed Retry-After
// header value (seconds), applied only to RateLimit classifications.
func MapHTTPErrorWithRetryAfter(provider string, status int, providerCode, providerType, bodyText, retryAfterHeader string) *types.Error {
	e := MapHTTPError(provider, status, providerCode, providerType, bodyText)
	if e.Code == types.ErrRateLimit && retryAfterHeader != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfterHeader)); err == nil {
			e.WithRetryAfter(secs)
		}
	}
	return e
}

// MapTransportError classifies a network-layer failure (no HTTP response
// at all): context deadline/cancellation becomes Timeout/Connection,
// everything else becomes Connection.
func MapTransportError(provider string, err error) *types.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err.Error()).WithProvider(provider).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return Connection("request canceled").WithProvider(provider).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err.Error()).WithProvider(provider).WithCause(err)
	}
	return Connection(err.Error()).WithProvider(provider).WithCause(err)
}
