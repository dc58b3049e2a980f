// Package router implements deployment selection, retry-with-fallback,
// cooldown-aware health filtering, and the streaming wrapper that closes
// the loop back into the cooldown tracker and (via the caller) spend
// recording.
package router

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/cooldown"
	"github.com/gatewayllm/gatewayllm/internal/deploycache"
	"github.com/gatewayllm/gatewayllm/internal/gwerrors"
	"github.com/gatewayllm/gatewayllm/internal/retry"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

// Config holds the process-wide router policy.
type Config struct {
	Strategy       Strategy
	NumRetries     int
	DefaultTimeout time.Duration
	// Fallbacks maps a public model name to the ordered list of models to
	// try once every deployment of the requested model is unavailable.
	Fallbacks map[string][]string
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategySimpleShuffle,
		NumRetries:     2,
		DefaultTimeout: 60 * time.Second,
	}
}

// Router drives the dispatch loop.
type Router struct {
	cfg      Config
	cache    *deploycache.Cache
	tracker  *cooldown.Tracker
	registry *providers.Registry
	rr       *roundRobinCounters
	retryer  retry.Retryer
	logger   *zap.Logger
}

// New builds a Router.
func New(cfg Config, cache *deploycache.Cache, tracker *cooldown.Tracker, registry *providers.Registry, logger *zap.Logger) *Router {
	if cfg.NumRetries < 0 {
		cfg.NumRetries = 0
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySimpleShuffle
	}
	return &Router{
		cfg:      cfg,
		cache:    cache,
		tracker:  tracker,
		registry: registry,
		rr:       newRoundRobinCounters(),
		// InitialDelay=1s, Multiplier=2, no jitter: NextDelay(attempt+1)
		// reproduces the 2^attempt-second retry cadence exactly, while
		// reusing the package's delay calculation instead of hand-rolling
		// math.Pow inline.
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			InitialDelay: time.Second,
			MaxDelay:     time.Hour,
			Multiplier:   2.0,
			Jitter:       false,
		}, logger),
		logger: logger,
	}
}

// Outcome carries everything the gateway endpoint needs for spend
// recording alongside the normalized response.
type Outcome struct {
	Response      *types.CompletionResponse
	ServedModel   string // pick.Deployment.ProviderModel
	ServedByID    string // deployment ID that served the request
	Provider      string
}

// candidatesFor returns [model] ++ fallbacks[model].
func (r *Router) candidatesFor(model string) []string {
	candidates := []string{model}
	return append(candidates, r.cfg.Fallbacks[model]...)
}

// healthyOf filters to dispatchable deployments. A non-nil ConfigError
// is reported back immediately so the caller
// can short-circuit the retry loop with a hard error instead of quietly
// treating a misconfigured row as merely unhealthy.
func (r *Router) healthyOf(cached []controlplane.ResolvedDeployment) ([]controlplane.ResolvedDeployment, error) {
	healthy := make([]controlplane.ResolvedDeployment, 0, len(cached))
	for _, d := range cached {
		if d.ConfigError != nil {
			return nil, d.ConfigError
		}
		if r.tracker.IsHealthy(d.Deployment.ID) {
			healthy = append(healthy, d)
		}
	}
	return healthy, nil
}

// Complete is the unary half of the dispatch loop: candidates, healthy
// filter, strategy pick, dispatch, retry with backoff, fallback.
func (r *Router) Complete(ctx context.Context, req *types.CompletionRequest) (*Outcome, error) {
	requestedModel := req.Model
	var lastErr error

	for _, current := range r.candidatesFor(requestedModel) {
		cached, err := r.cache.Get(ctx, current, req.OrgID, req.TeamID, controlplane.ModelTypeChat)
		if err != nil {
			lastErr = err
			continue
		}
		if len(cached) == 0 {
			continue
		}

		for attempt := 0; attempt <= r.cfg.NumRetries; attempt++ {
			healthy, cfgErr := r.healthyOf(cached)
			if cfgErr != nil {
				return nil, cfgErr
			}
			if len(healthy) == 0 {
				break
			}
			pick := Select(r.cfg.Strategy, healthy, r.tracker, r.rr, current)

			r.tracker.IncrInFlight(pick.Deployment.ID)
			r.tracker.IncrTotal(pick.Deployment.ID)
			start := time.Now()
			resp, dispatchErr := r.dispatch(ctx, req, pick)
			r.tracker.DecrInFlight(pick.Deployment.ID)

			if dispatchErr == nil {
				r.tracker.RecordSuccess(pick.Deployment.ID, time.Since(start))
				resp.Model = requestedModel
				resp.Provider = pick.ProviderType
				return &Outcome{
					Response:    resp,
					ServedModel: pick.Deployment.ProviderModel,
					ServedByID:  pick.Deployment.ID,
					Provider:    pick.ProviderType,
				}, nil
			}

			r.tracker.RecordFailure(pick.Deployment.ID)
			lastErr = dispatchErr
			if !gwerrors.Retriable(dispatchErr) {
				return nil, dispatchErr
			}
			if attempt < r.cfg.NumRetries {
				if err := r.sleepBackoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if outcome, ok, err := r.completeDirect(ctx, req); ok {
		return outcome, err
	}
	return nil, gwerrors.NoHealthyDeployments("no healthy deployments for model " + requestedModel)
}

// directAdapter resolves an adapter straight from the model name — the
// "provider/model" prefix, pattern, and probe tiers — for models the
// control plane holds no deployment rows for: static-config models and
// ad-hoc prefixed names. A matching "provider/" prefix is stripped off
// the upstream model name.
func (r *Router) directAdapter(model string) (providers.Adapter, string, bool) {
	adapter, err := r.registry.Resolve(model)
	if err != nil {
		return nil, "", false
	}
	upstream := model
	if prefix, rest, ok := strings.Cut(model, "/"); ok && prefix == adapter.Name() {
		upstream = rest
	}
	return adapter, upstream, true
}

// completeDirect is the last-resort dispatch path taken only when no
// candidate model produced any deployments at all. Credentials come from
// the process environment; failures cool the per-provider direct path
// down the same way a deployment would.
func (r *Router) completeDirect(ctx context.Context, req *types.CompletionRequest) (*Outcome, bool, error) {
	adapter, upstream, ok := r.directAdapter(req.Model)
	if !ok {
		return nil, false, nil
	}
	id := "env:" + adapter.Name()
	if !r.tracker.IsHealthy(id) {
		return nil, false, nil
	}

	clone := *req
	clone.Model = upstream
	if clone.Timeout <= 0 {
		clone.Timeout = r.cfg.DefaultTimeout
	}

	r.tracker.IncrInFlight(id)
	r.tracker.IncrTotal(id)
	start := time.Now()
	dispatchCtx, cancel := context.WithTimeout(ctx, clone.Timeout)
	resp, err := adapter.Complete(dispatchCtx, providers.EnvCredentials(adapter.Name()), "", nil, &clone)
	cancel()
	r.tracker.DecrInFlight(id)

	if err != nil {
		r.tracker.RecordFailure(id)
		return nil, true, err
	}
	r.tracker.RecordSuccess(id, time.Since(start))
	resp.Model = req.Model
	resp.Provider = adapter.Name()
	return &Outcome{
		Response:    resp,
		ServedModel: upstream,
		ServedByID:  id,
		Provider:    adapter.Name(),
	}, true, nil
}

func (r *Router) dispatch(ctx context.Context, req *types.CompletionRequest, pick controlplane.ResolvedDeployment) (*types.CompletionResponse, error) {
	adapter, ok := r.registry.Get(pick.ProviderType)
	if !ok {
		return nil, gwerrors.ModelNotSupported("no adapter registered for provider type " + pick.ProviderType)
	}

	adapterReq := r.buildRequest(req, pick)
	dispatchCtx, cancel := context.WithTimeout(ctx, adapterReq.Timeout)
	defer cancel()

	creds := providers.Credentials{APIKey: pick.DecryptedKey}
	return adapter.Complete(dispatchCtx, creds, pick.APIBase, pick.Settings, adapterReq)
}

// buildRequest targets the upstream provider_model (not the public model)
// and inherits the deployment's timeout when the caller didn't override it.
func (r *Router) buildRequest(req *types.CompletionRequest, pick controlplane.ResolvedDeployment) *types.CompletionRequest {
	clone := *req
	clone.Model = pick.Deployment.ProviderModel
	if clone.Timeout <= 0 {
		if pick.Deployment.Timeout > 0 {
			clone.Timeout = pick.Deployment.Timeout
		} else {
			clone.Timeout = r.cfg.DefaultTimeout
		}
	}
	return &clone
}

// sleepBackoff waits 2^attempt seconds — the router's
// own retry.Retryer computes the delay so the cadence is driven by the same
// backoff package the rest of the tree uses for exponential retry math,
// rather than a hand-rolled exponent — returning early with ctx.Err() if the
// caller's request is canceled first.
func (r *Router) sleepBackoff(ctx context.Context, attempt int) error {
	delay := r.retryer.NextDelay(attempt + 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
