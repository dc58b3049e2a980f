// Package spend is the async half of spend accounting: it schedules a SpendLog
// write and budget-counter increment after every terminated request,
// computing cost against the publicly requested model and
// never allowing a recording failure to surface to the caller.
package spend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/pricing"
	"github.com/gatewayllm/gatewayllm/types"
)

// Store is the persistence boundary the recorder writes through.
// *controlplane.Store satisfies this.
type Store interface {
	RecordSpend(ctx context.Context, p controlplane.AppendSpendLogParams) error
}

// Params describes one terminated request's accounting inputs.
type Params struct {
	RequestID        string
	APIKeyID         string
	UserID           string
	TeamID           string
	OrgID            string
	Model            string // the publicly requested model
	Provider         string // the provider that actually served it (may differ on fallback)
	EndpointType     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CacheReadTokens  int
	LatencyMS        int64
	Status           string
	Err              error
}

// Recorder schedules spend recording asynchronously, after the HTTP
// response has begun flushing.
type Recorder struct {
	store      Store
	pricing    *pricing.Manager
	logger     *zap.Logger
	onRecorded func(model, provider string, cost float64)
}

// NewRecorder builds a Recorder.
func NewRecorder(store Store, pricingMgr *pricing.Manager, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, pricing: pricingMgr, logger: logger}
}

// OnRecorded registers a hook invoked after each successful spend write,
// with the computed cost rounded to float64 — metrics only; the exact
// decimal stays in the SpendLog row. Not safe to call after RecordAsync
// has started being used.
func (r *Recorder) OnRecorded(fn func(model, provider string, cost float64)) {
	r.onRecorded = fn
}

// EstimateCost computes the advisory cost string stamped into a
// response's hidden_params before it is serialized. Advisory only: the
// authoritative record is the one RecordAsync writes.
func (r *Recorder) EstimateCost(ctx context.Context, model string, usage types.Usage) string {
	rate := r.pricing.RateFor(ctx, model)
	return pricing.ComputeCost(rate, usage.PromptTokens, usage.CompletionTokens, 0).String()
}

// RecordAsync computes cost and writes the spend log in a detached
// goroutine, using a background context so the parent request's
// cancellation (client disconnect, response already sent) can never abort
// the write.
func (r *Recorder) RecordAsync(p Params) {
	go func() {
		if err := r.record(context.Background(), p); err != nil {
			r.logger.Error("spend: recording failed, dropping",
				zap.String("request_id", p.RequestID),
				zap.String("model", p.Model),
				zap.Error(err))
		}
	}()
}

func (r *Recorder) record(ctx context.Context, p Params) error {
	rate := r.pricing.RateFor(ctx, p.Model)
	cost := pricing.ComputeCost(rate, p.PromptTokens, p.CompletionTokens, p.CacheReadTokens)

	status := p.Status
	if status == "" {
		if p.Err != nil {
			status = "error"
		} else {
			status = "success"
		}
	}

	row := controlplane.SpendLog{
		ID:           uuid.NewString(),
		RequestID:    p.RequestID,
		Model:        p.Model,
		Provider:     p.Provider,
		EndpointType: p.EndpointType,
		Spend:        cost.String(),
		Status:       status,
		CreatedAt:    time.Now(),
	}
	if p.APIKeyID != "" {
		row.APIKeyID = &p.APIKeyID
	}
	if p.UserID != "" {
		row.UserID = &p.UserID
	}
	if p.TeamID != "" {
		row.TeamID = &p.TeamID
	}
	if p.OrgID != "" {
		row.OrgID = &p.OrgID
	}
	if p.PromptTokens > 0 || p.CompletionTokens > 0 || p.TotalTokens > 0 {
		row.PromptTokens = &p.PromptTokens
		row.CompletionTokens = &p.CompletionTokens
		row.TotalTokens = &p.TotalTokens
	}
	if p.LatencyMS > 0 {
		row.LatencyMS = &p.LatencyMS
	}
	if p.Err != nil {
		msg := p.Err.Error()
		row.Error = &msg
	}

	if err := r.store.RecordSpend(ctx, controlplane.AppendSpendLogParams{
		SpendLog: row,
		Spend:    cost.String(),
	}); err != nil {
		return err
	}
	if r.onRecorded != nil {
		approx, _ := cost.Float64()
		r.onRecorded(p.Model, p.Provider, approx)
	}
	return nil
}
