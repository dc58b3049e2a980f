package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/cooldown"
	"github.com/gatewayllm/gatewayllm/internal/deploycache"
	"github.com/gatewayllm/gatewayllm/internal/gwerrors"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

// scriptedAdapter returns canned outcomes in order, one per Complete call,
// repeating the last entry once the script runs out.
type scriptedAdapter struct {
	name    string
	mu      sync.Mutex
	calls   int32
	script  []scriptedOutcome
	streams []scriptedStream
}

type scriptedOutcome struct {
	resp *types.CompletionResponse
	err  error
}

type scriptedStream struct {
	chunks []types.StreamChunk
	err    error
}

func (a *scriptedAdapter) Name() string              { return a.name }
func (a *scriptedAdapter) SupportsNativeTools() bool { return true }

func (a *scriptedAdapter) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	n := atomic.AddInt32(&a.calls, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	out := a.script[idx]
	return out.resp, out.err
}

func (a *scriptedAdapter) Stream(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (<-chan types.StreamChunk, error) {
	n := atomic.AddInt32(&a.calls, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(a.streams) {
		idx = len(a.streams) - 1
	}
	s := a.streams[idx]
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan types.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context, creds providers.Credentials, baseURL string) (*providers.HealthStatus, error) {
	return &providers.HealthStatus{Healthy: true}, nil
}

func (a *scriptedAdapter) ListModels(ctx context.Context, creds providers.Credentials, baseURL string) ([]providers.Model, error) {
	return nil, nil
}

// staticFetcher serves a fixed deployment list per model name.
type staticFetcher struct {
	byModel map[string][]controlplane.ResolvedDeployment
}

func (f *staticFetcher) FetchDeployments(ctx context.Context, modelName, orgID, teamID string, modelType controlplane.ModelType) ([]controlplane.ResolvedDeployment, error) {
	return f.byModel[modelName], nil
}

func resolved(id, model, providerType string) controlplane.ResolvedDeployment {
	return controlplane.ResolvedDeployment{
		Deployment: controlplane.ModelDeployment{
			ID:            id,
			ModelName:     model,
			ProviderModel: "upstream-" + model,
			ModelType:     controlplane.ModelTypeChat,
			IsActive:      true,
			Priority:      1,
		},
		ProviderType: providerType,
		DecryptedKey: "sk-test",
	}
}

func okResponse(model string) *types.CompletionResponse {
	return &types.CompletionResponse{
		ID:    "resp-1",
		Model: model,
		Choices: []types.CompletionChoice{
			{Index: 0, Message: types.Message{Role: types.RoleAssistant, Content: "hi"}, FinishReason: "stop"},
		},
		Usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func newTestRouter(t *testing.T, cfg Config, fetcher deploycache.Fetcher, adapters map[string]providers.Adapter) (*Router, *cooldown.Tracker) {
	t.Helper()
	tracker := cooldown.New(time.Minute, 3)
	cache := deploycache.New(fetcher, time.Minute, nil, zap.NewNop())
	registry := providers.NewRegistry()
	for name, a := range adapters {
		registry.Register(name, a)
	}
	return New(cfg, cache, tracker, registry, zap.NewNop()), tracker
}

func TestComplete_Success(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", script: []scriptedOutcome{{resp: okResponse("upstream-gpt-4o-mini")}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{NumRetries: 0}, fetcher, map[string]providers.Adapter{"openai": adapter})

	outcome, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	// The response is rewritten to the publicly requested model name.
	assert.Equal(t, "gpt-4o-mini", outcome.Response.Model)
	assert.Equal(t, "upstream-gpt-4o-mini", outcome.ServedModel)
	assert.Equal(t, "dep-1", outcome.ServedByID)
	assert.Equal(t, "openai", outcome.Provider)

	// In-flight returns to its pre-dispatch value and the success is
	// recorded.
	assert.Equal(t, int64(0), tracker.InFlight("dep-1"))
	assert.True(t, tracker.IsHealthy("dep-1"))
	assert.Greater(t, int64(tracker.AvgLatency("dep-1")), int64(0))
}

func TestComplete_NonRetriableShortCircuits(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", script: []scriptedOutcome{
		{err: gwerrors.ContextLengthExceeded("too long")},
		{resp: okResponse("upstream-gpt-4o-mini")},
	}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{NumRetries: 2}, fetcher, map[string]providers.Adapter{"openai": adapter})

	_, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrContextLength, types.GetErrorCode(err))

	// No retry fired despite NumRetries=2.
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))
	assert.Equal(t, int64(0), tracker.InFlight("dep-1"))
	assert.Equal(t, 1, tracker.Snapshot("dep-1").Failures)
}

func TestComplete_RetryThenSuccess(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", script: []scriptedOutcome{
		{err: gwerrors.RateLimit("slow down", 0)},
		{resp: okResponse("upstream-gpt-4o-mini")},
	}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{NumRetries: 1}, fetcher, map[string]providers.Adapter{"openai": adapter})

	start := time.Now()
	outcome, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "dep-1", outcome.ServedByID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&adapter.calls))

	// The first retry backs off 2^0 = 1 second.
	assert.GreaterOrEqual(t, time.Since(start), time.Second)

	// Success cleared the failure recorded on attempt 0.
	assert.True(t, tracker.IsHealthy("dep-1"))
	assert.Equal(t, 0, tracker.Snapshot("dep-1").Failures)
	assert.Equal(t, int64(0), tracker.InFlight("dep-1"))
}

func TestComplete_FallbackModel(t *testing.T) {
	anthropic := &scriptedAdapter{name: "anthropic", script: []scriptedOutcome{{resp: okResponse("upstream-claude-3-haiku")}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		// No deployments at all for the requested model.
		"claude-3-haiku": {resolved("dep-claude", "claude-3-haiku", "anthropic")},
	}}
	r, _ := newTestRouter(t, Config{
		NumRetries: 0,
		Fallbacks:  map[string][]string{"gpt-4o": {"claude-3-haiku"}},
	}, fetcher, map[string]providers.Adapter{"anthropic": anthropic})

	outcome, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	// Served by the fallback's provider, but surfaced under the requested
	// model name.
	assert.Equal(t, "gpt-4o", outcome.Response.Model)
	assert.Equal(t, "anthropic", outcome.Provider)
	assert.Equal(t, "dep-claude", outcome.ServedByID)
}

func TestComplete_CooldownExcludesDeployment(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", script: []scriptedOutcome{{resp: okResponse("x")}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{NumRetries: 2}, fetcher, map[string]providers.Adapter{"openai": adapter})

	// Trip the only deployment's cooldown before the request arrives.
	tracker.RecordFailure("dep-1")
	tracker.RecordFailure("dep-1")
	tracker.RecordFailure("dep-1")

	_, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRouterUnavailable, types.GetErrorCode(err))

	// Nothing was dispatched.
	assert.Equal(t, int32(0), atomic.LoadInt32(&adapter.calls))
}

func TestComplete_NoDeploymentsAnywhere(t *testing.T) {
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{}}
	r, _ := newTestRouter(t, Config{}, fetcher, nil)

	_, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "unknown-model",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRouterUnavailable, types.GetErrorCode(err))
}

func TestComplete_MisconfiguredStandaloneSurfacesHardError(t *testing.T) {
	bad := resolved("dep-bad", "gpt-4o-mini", "")
	bad.ConfigError = gwerrors.RouterMisconfigured("standalone deployment dep-bad has no provider_type")
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {bad},
	}}
	r, _ := newTestRouter(t, Config{NumRetries: 2}, fetcher, nil)

	_, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRouterMisconfigured, types.GetErrorCode(err))
}

func TestComplete_TimeoutInheritance(t *testing.T) {
	var captured time.Duration
	adapter := &capturingAdapter{onComplete: func(req *types.CompletionRequest) {
		captured = req.Timeout
	}}
	dep := resolved("dep-1", "gpt-4o-mini", "openai")
	dep.Deployment.Timeout = 7 * time.Second
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {dep},
	}}
	r, _ := newTestRouter(t, Config{DefaultTimeout: 60 * time.Second}, fetcher, map[string]providers.Adapter{"openai": adapter})

	_, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	// Caller set no timeout, so the deployment's own timeout applies.
	assert.Equal(t, 7*time.Second, captured)
}

// capturingAdapter records the request it was dispatched and succeeds.
type capturingAdapter struct {
	scriptedAdapter
	onComplete func(req *types.CompletionRequest)
}

func (a *capturingAdapter) Complete(ctx context.Context, creds providers.Credentials, baseURL string, settings map[string]string, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	if a.onComplete != nil {
		a.onComplete(req)
	}
	return okResponse(req.Model), nil
}

func TestStream_ForwardsChunksAndRecordsSuccess(t *testing.T) {
	final := types.StreamChunk{
		ID: "chunk-4", FinishReason: "stop",
		Usage: &types.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}
	adapter := &scriptedAdapter{name: "openai", streams: []scriptedStream{{
		chunks: []types.StreamChunk{
			{ID: "chunk-1", Delta: types.Message{Role: types.RoleAssistant, Content: "he"}},
			{ID: "chunk-2", Delta: types.Message{Content: "ll"}},
			{ID: "chunk-3", Delta: types.Message{Content: "o"}},
			final,
		},
	}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{}, fetcher, map[string]providers.Adapter{"openai": adapter})

	outcome, err := r.Stream(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dep-1", outcome.ServedByID)

	var got []types.StreamChunk
	for chunk := range outcome.Chunks {
		got = append(got, chunk)
	}
	require.Len(t, got, 4)
	assert.Equal(t, "stop", got[3].FinishReason)
	require.NotNil(t, got[3].Usage)
	assert.Equal(t, 13, got[3].Usage.TotalTokens)

	// Stream termination settles the stats exactly once.
	assert.Eventually(t, func() bool {
		return tracker.InFlight("dep-1") == 0
	}, time.Second, 10*time.Millisecond)
	assert.True(t, tracker.IsHealthy("dep-1"))
}

func TestStream_EstablishErrorRetriesThenFallsBack(t *testing.T) {
	openaiAdapter := &scriptedAdapter{name: "openai", streams: []scriptedStream{
		{err: gwerrors.ServiceUnavailable("overloaded")},
	}}
	anthropicAdapter := &scriptedAdapter{name: "anthropic", streams: []scriptedStream{{
		chunks: []types.StreamChunk{{ID: "c1", FinishReason: "stop"}},
	}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o":         {resolved("dep-oai", "gpt-4o", "openai")},
		"claude-3-haiku": {resolved("dep-claude", "claude-3-haiku", "anthropic")},
	}}
	r, tracker := newTestRouter(t, Config{
		NumRetries: 0,
		Fallbacks:  map[string][]string{"gpt-4o": {"claude-3-haiku"}},
	}, fetcher, map[string]providers.Adapter{
		"openai":    openaiAdapter,
		"anthropic": anthropicAdapter,
	})

	outcome, err := r.Stream(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", outcome.Provider)

	for range outcome.Chunks {
	}
	assert.Equal(t, 1, tracker.Snapshot("dep-oai").Failures)
	assert.Equal(t, int64(0), tracker.InFlight("dep-oai"))
}

func TestStream_ErrorChunkRecordsFailure(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", streams: []scriptedStream{{
		chunks: []types.StreamChunk{
			{ID: "c1", Delta: types.Message{Content: "he"}},
			{ID: "c2", Err: gwerrors.ApiError("upstream broke mid-stream")},
		},
	}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{
		"gpt-4o-mini": {resolved("dep-1", "gpt-4o-mini", "openai")},
	}}
	r, tracker := newTestRouter(t, Config{}, fetcher, map[string]providers.Adapter{"openai": adapter})

	outcome, err := r.Stream(context.Background(), &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	var got []types.StreamChunk
	for chunk := range outcome.Chunks {
		got = append(got, chunk)
	}
	require.Len(t, got, 2)
	require.NotNil(t, got[1].Err)
	assert.Equal(t, types.ErrApiError, got[1].Err.Code)

	// Mid-stream errors are never retried; they count as a failure.
	assert.Eventually(t, func() bool {
		return tracker.Snapshot("dep-1").Failures == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), tracker.InFlight("dep-1"))
}

func TestComplete_DirectDispatchWhenNoDeployments(t *testing.T) {
	adapter := &scriptedAdapter{name: "anthropic", script: []scriptedOutcome{{resp: okResponse("claude-3-haiku")}}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{}}

	tracker := cooldown.New(time.Minute, 3)
	cache := deploycache.New(fetcher, time.Minute, nil, zap.NewNop())
	registry := providers.NewRegistry()
	registry.Register("anthropic", adapter, "claude-*")
	r := New(Config{}, cache, tracker, registry, zap.NewNop())

	// No deployment rows anywhere: the router falls back to resolving an
	// adapter from the model name itself.
	outcome, err := r.Complete(context.Background(), &types.CompletionRequest{
		Model:    "anthropic/claude-3-haiku",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-3-haiku", outcome.Response.Model)
	assert.Equal(t, "claude-3-haiku", outcome.ServedModel) // prefix stripped upstream
	assert.Equal(t, "env:anthropic", outcome.ServedByID)
	assert.Equal(t, "anthropic", outcome.Provider)
	assert.Equal(t, int64(0), tracker.InFlight("env:anthropic"))
}

func TestComplete_DirectDispatchCoolsDown(t *testing.T) {
	adapter := &scriptedAdapter{name: "anthropic", script: []scriptedOutcome{
		{err: gwerrors.ServiceUnavailable("overloaded")},
	}}
	fetcher := &staticFetcher{byModel: map[string][]controlplane.ResolvedDeployment{}}

	tracker := cooldown.New(time.Minute, 3)
	cache := deploycache.New(fetcher, time.Minute, nil, zap.NewNop())
	registry := providers.NewRegistry()
	registry.Register("anthropic", adapter, "claude-*")
	r := New(Config{}, cache, tracker, registry, zap.NewNop())

	req := &types.CompletionRequest{
		Model:    "claude-3-haiku",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}

	for i := 0; i < 3; i++ {
		_, err := r.Complete(context.Background(), req)
		require.Error(t, err)
	}
	require.False(t, tracker.IsHealthy("env:anthropic"))

	// With the direct path cooled down, nothing is dispatched.
	_, err := r.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrRouterUnavailable, types.GetErrorCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&adapter.calls))
}
