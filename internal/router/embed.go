package router

import (
	"context"
	"time"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/gwerrors"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

// EmbedOutcome mirrors Outcome for the embeddings path.
type EmbedOutcome struct {
	Response *types.EmbeddingResponse
	Provider string
}

// Embed runs the same cache -> health-filter -> select -> dispatch ->
// retry/fallback loop as Complete, against deployments of
// ModelTypeEmbedding and adapters that implement providers.EmbeddingAdapter.
func (r *Router) Embed(ctx context.Context, req *types.EmbeddingRequest) (*EmbedOutcome, error) {
	requestedModel := req.Model
	var lastErr error

	for _, current := range r.candidatesFor(requestedModel) {
		cached, err := r.cache.Get(ctx, current, req.OrgID, req.TeamID, controlplane.ModelTypeEmbedding)
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

			adapter, ok := r.registry.Get(pick.ProviderType)
			if !ok {
				lastErr = gwerrors.ModelNotSupported("no adapter registered for provider type " + pick.ProviderType)
				break
			}
			embedder, ok := adapter.(providers.EmbeddingAdapter)
			if !ok {
				lastErr = gwerrors.ModelNotSupported(pick.ProviderType + " adapter does not support embeddings")
				break
			}

			r.tracker.IncrInFlight(pick.Deployment.ID)
			r.tracker.IncrTotal(pick.Deployment.ID)
			start := time.Now()
			clone := *req
			clone.Model = pick.Deployment.ProviderModel
			creds := providers.Credentials{APIKey: pick.DecryptedKey}
			resp, dispatchErr := embedder.Embed(ctx, creds, pick.APIBase, pick.Settings, &clone)
			r.tracker.DecrInFlight(pick.Deployment.ID)

			if dispatchErr == nil {
				r.tracker.RecordSuccess(pick.Deployment.ID, time.Since(start))
				resp.Model = requestedModel
				resp.Provider = pick.ProviderType
				return &EmbedOutcome{Response: resp, Provider: pick.ProviderType}, nil
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
	return nil, gwerrors.NoHealthyDeployments("no healthy deployments for model " + requestedModel)
}
