package gateway

import (
	"net/http"
	"time"
)

// healthStatus is the shared response shape across all four health tiers.
type healthStatus struct {
	Status    string                    `json:"status"`
	Timestamp time.Time                 `json:"timestamp"`
	Deployments map[string]deploymentHealth `json:"deployments,omitempty"`
}

type deploymentHealth struct {
	Healthy       bool      `json:"healthy"`
	InFlight      int64     `json:"in_flight"`
	Failures      int       `json:"failures"`
	AvgLatencyMS  int64     `json:"avg_latency_ms"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// HandleHealth is the plain `/health` tier: process is up, nothing more.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleLiveness is `/health/liveness`: identical to `/health` — the
// process being able to answer HTTP at all is the liveness contract.
func (g *Gateway) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReadiness is `/health/readiness`: reports unhealthy (503) if no
// router is wired, since that means every request would fail regardless
// of deployment-level health. Registered providers are not inspected.
func (g *Gateway) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	code := http.StatusOK
	if g.Router == nil {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthStatus{Status: status, Timestamp: time.Now()})
}

// HandleDetailedHealth is `/health/detailed`: exposes per-deployment
// cooldown-tracker state for operators.
func (g *Gateway) HandleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthStatus{Status: "healthy", Timestamp: time.Now(), Deployments: map[string]deploymentHealth{}}
	if g.Tracker == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ids := r.URL.Query()["deployment_id"]
	for _, id := range ids {
		snap := g.Tracker.Snapshot(id)
		resp.Deployments[id] = deploymentHealth{
			Healthy:       snap.Healthy,
			InFlight:      snap.InFlight,
			Failures:      snap.Failures,
			AvgLatencyMS:  snap.AvgLatency.Milliseconds(),
			CooldownUntil: snap.CooldownUntil,
		}
		if !snap.Healthy {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
