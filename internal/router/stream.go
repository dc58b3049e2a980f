package router

import (
	"context"
	"time"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/gwerrors"
	"github.com/gatewayllm/gatewayllm/internal/streaming"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

// StreamOutcome mirrors Outcome for the streaming path; ServedModel/
// ServedByID/Provider are known as soon as the upstream stream is
// established, before any chunk is read.
type StreamOutcome struct {
	Chunks      <-chan types.StreamChunk
	ServedModel string
	ServedByID  string
	Provider    string
}

// Stream is the streaming half of the dispatch loop: retry/fallback
// applies only to establishing the stream. Once the upstream stream is
// established, errors propagate — streaming is never retried mid-stream.
func (r *Router) Stream(ctx context.Context, req *types.CompletionRequest) (*StreamOutcome, error) {
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

			adapter, ok := r.registry.Get(pick.ProviderType)
			if !ok {
				lastErr = gwerrors.ModelNotSupported("no adapter registered for provider type " + pick.ProviderType)
				if attempt < r.cfg.NumRetries {
					if err := r.sleepBackoff(ctx, attempt); err != nil {
						return nil, err
					}
					continue
				}
				break
			}

			r.tracker.IncrInFlight(pick.Deployment.ID)
			r.tracker.IncrTotal(pick.Deployment.ID)
			adapterReq := r.buildRequest(req, pick)
			creds := providers.Credentials{APIKey: pick.DecryptedKey}

			start := time.Now()
			upstream, err := adapter.Stream(ctx, creds, pick.APIBase, pick.Settings, adapterReq)
			if err != nil {
				r.tracker.DecrInFlight(pick.Deployment.ID)
				r.tracker.RecordFailure(pick.Deployment.ID)
				lastErr = err
				if !gwerrors.Retriable(err) {
					return nil, err
				}
				if attempt < r.cfg.NumRetries {
					if err := r.sleepBackoff(ctx, attempt); err != nil {
						return nil, err
					}
					continue
				}
				break
			}

			// The stream is established: no further retry/fallback, even
			// if the first forwarded chunk turns out to carry an error.
			return &StreamOutcome{
				Chunks:      r.wrapStream(ctx, pick, upstream, start),
				ServedModel: pick.Deployment.ProviderModel,
				ServedByID:  pick.Deployment.ID,
				Provider:    pick.ProviderType,
			}, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if outcome, ok, err := r.streamDirect(ctx, req); ok {
		return outcome, err
	}
	return nil, gwerrors.NoHealthyDeployments("no healthy deployments for model " + requestedModel)
}

// streamDirect mirrors completeDirect for the streaming path: taken only
// when no candidate model produced any deployments, resolving the adapter
// from the model name and authenticating from the process environment.
func (r *Router) streamDirect(ctx context.Context, req *types.CompletionRequest) (*StreamOutcome, bool, error) {
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
	upstreamCh, err := adapter.Stream(ctx, providers.EnvCredentials(adapter.Name()), "", nil, &clone)
	if err != nil {
		r.tracker.DecrInFlight(id)
		r.tracker.RecordFailure(id)
		return nil, true, err
	}

	pick := controlplane.ResolvedDeployment{
		Deployment: controlplane.ModelDeployment{
			ID:            id,
			ModelName:     req.Model,
			ProviderModel: upstream,
		},
		ProviderType: adapter.Name(),
	}
	return &StreamOutcome{
		Chunks:      r.wrapStream(ctx, pick, upstreamCh, start),
		ServedModel: upstream,
		ServedByID:  id,
		Provider:    adapter.Name(),
	}, true, nil
}

// wrapStream owns the in-flight counter and latency measurement for a
// streaming dispatch: it forwards every chunk verbatim,
// and on termination — natural end, upstream error, or client
// cancellation — updates the cooldown tracker exactly once and decrements
// in-flight exactly once.
//
// Chunks pass through a streaming.BackpressureStream rather than a bare
// channel: the producer goroutine, which drains the provider adapter, can
// run ahead of a slow client write loop up to the buffer's bound instead of
// blocking the adapter's own goroutine on every single chunk.
func (r *Router) wrapStream(ctx context.Context, pick controlplane.ResolvedDeployment, upstream <-chan types.StreamChunk, start time.Time) <-chan types.StreamChunk {
	buf := streaming.NewBackpressureStream(streamBufferConfig())
	out := make(chan types.StreamChunk)

	go r.pumpStream(ctx, buf, upstream)
	go r.drainStream(ctx, pick, buf, out, start)

	return out
}

// pumpStream forwards every upstream chunk into buf, stopping at the first
// terminal chunk, a closed upstream channel, or context cancellation.
func (r *Router) pumpStream(ctx context.Context, buf *streaming.BackpressureStream, upstream <-chan types.StreamChunk) {
	defer buf.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-upstream:
			if !ok {
				return
			}
			if err := buf.Write(ctx, encodeChunk(chunk)); err != nil {
				return
			}
			if chunk.FinishReason != "" || chunk.Err != nil {
				return
			}
		}
	}
}

// drainStream reads buf and forwards to out, recording exactly one tracker
// outcome and one in-flight decrement no matter which termination path
// fires.
func (r *Router) drainStream(ctx context.Context, pick controlplane.ResolvedDeployment, buf *streaming.BackpressureStream, out chan<- types.StreamChunk, start time.Time) {
	defer close(out)
	defer r.tracker.DecrInFlight(pick.Deployment.ID)

	for {
		tok, err := buf.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Client disconnected mid-stream.
				r.tracker.RecordFailure(pick.Deployment.ID)
			} else {
				r.tracker.RecordSuccess(pick.Deployment.ID, time.Since(start))
			}
			return
		}

		chunk := decodeChunk(tok)
		if chunk.Err != nil {
			r.tracker.RecordFailure(pick.Deployment.ID)
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			r.tracker.RecordFailure(pick.Deployment.ID)
			return
		}
		if chunk.FinishReason != "" {
			// Terminal chunk: don't wait on the buffer's close to record
			// the stat update.
			r.tracker.RecordSuccess(pick.Deployment.ID, time.Since(start))
			return
		}
	}
}
