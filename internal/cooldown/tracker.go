// Package cooldown provides per-deployment failure-window cooldown,
// EWMA latency, and in-flight counters, plus an optional
// per-API-key RPM/RPD limiter. All state here is
// in-memory, process-lifetime only — it is never persisted.
package cooldown

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCooldownTime is the sliding failure-window length.
const DefaultCooldownTime = 60 * time.Second

// DefaultFailureThreshold is the number of failures within the window that
// opens a deployment's cooldown.
const DefaultFailureThreshold = 3

// Snapshot is a read-only view of one deployment's tracked state, exposed
// for /health/detailed.
type Snapshot struct {
	DeploymentID  string
	InFlight      int64
	Total         int64
	Failures      int
	AvgLatency    time.Duration
	LastUsed      time.Time
	CooldownUntil time.Time
	Healthy       bool
}

type deploymentState struct {
	mu            sync.Mutex
	inFlight      int64 // atomic
	total         int64 // atomic
	failures      []time.Time
	avgLatency    time.Duration
	lastUsed      time.Time
	cooldownUntil time.Time
}

// Tracker is the process-wide per-deployment state. Created lazily on
// first use of a deployment ID; lives for the process.
type Tracker struct {
	mu               sync.RWMutex
	states           map[string]*deploymentState
	cooldownTime     time.Duration
	failureThreshold int
	onCooldownOpen   func(deploymentID string)
}

// New builds a Tracker. Zero values select the package defaults.
func New(cooldownTime time.Duration, failureThreshold int) *Tracker {
	if cooldownTime <= 0 {
		cooldownTime = DefaultCooldownTime
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Tracker{
		states:           make(map[string]*deploymentState),
		cooldownTime:     cooldownTime,
		failureThreshold: failureThreshold,
	}
}

// OnCooldownOpen registers a hook fired each time a deployment's failure
// window first crosses the threshold. Set once at startup, before any
// RecordFailure call.
func (t *Tracker) OnCooldownOpen(fn func(deploymentID string)) {
	t.onCooldownOpen = fn
}

func (t *Tracker) state(id string) *deploymentState {
	t.mu.RLock()
	s, ok := t.states[id]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[id]; ok {
		return s
	}
	s = &deploymentState{}
	t.states[id] = s
	return s
}

// IncrInFlight increments the in-flight counter, once per dispatch
// attempt, before dispatch.
func (t *Tracker) IncrInFlight(id string) {
	atomic.AddInt64(&t.state(id).inFlight, 1)
}

// DecrInFlight decrements the in-flight counter, exactly once per dispatch
// on response or terminal error.
func (t *Tracker) DecrInFlight(id string) {
	atomic.AddInt64(&t.state(id).inFlight, -1)
}

// IncrTotal increments the lifetime dispatch counter for a deployment.
func (t *Tracker) IncrTotal(id string) {
	atomic.AddInt64(&t.state(id).total, 1)
}

// InFlight returns the current in-flight count, used by the least-busy
// strategy.
func (t *Tracker) InFlight(id string) int64 {
	return atomic.LoadInt64(&t.state(id).inFlight)
}

// RecordFailure appends now to the deployment's sliding failure window,
// discards entries older than cooldownTime, and reports whether the
// window has now met failureThreshold.
func (t *Tracker) RecordFailure(id string) bool {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.failures = pruneBefore(s.failures, now.Add(-t.cooldownTime))
	s.failures = append(s.failures, now)

	tripped := len(s.failures) >= t.failureThreshold
	if tripped {
		opening := s.cooldownUntil.Before(now)
		s.cooldownUntil = now.Add(t.cooldownTime)
		if opening && t.onCooldownOpen != nil {
			t.onCooldownOpen(id)
		}
	}
	return tripped
}

// RecordSuccess clears the failure window and folds latency into the EWMA
// average: avg <- 0.7*avg + 0.3*latency, or avg <- latency on the first
// sample.
func (t *Tracker) RecordSuccess(id string, latency time.Duration) {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = nil
	s.cooldownUntil = time.Time{}
	s.lastUsed = time.Now()
	if s.avgLatency == 0 {
		s.avgLatency = latency
	} else {
		s.avgLatency = time.Duration(0.7*float64(s.avgLatency) + 0.3*float64(latency))
	}
}

// IsHealthy reports whether a deployment may currently be selected: its
// failure window, pruned to now, is below failureThreshold.
// A deployment returns to healthy automatically once failures age out of
// the window, with no explicit "close" call required.
func (t *Tracker) IsHealthy(id string) bool {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = pruneBefore(s.failures, time.Now().Add(-t.cooldownTime))
	return len(s.failures) < t.failureThreshold
}

// AvgLatency returns the EWMA latency sample, or 0 if none recorded yet.
// The latency-based strategy (internal/router/strategy.go) treats 0 as
// "unsampled".
func (t *Tracker) AvgLatency(id string) time.Duration {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgLatency
}

// Snapshot returns a point-in-time read of one deployment's tracked state.
func (t *Tracker) Snapshot(id string) Snapshot {
	s := t.state(id)
	s.mu.Lock()
	failures := len(pruneBefore(s.failures, time.Now().Add(-t.cooldownTime)))
	snap := Snapshot{
		DeploymentID:  id,
		InFlight:      atomic.LoadInt64(&s.inFlight),
		Total:         atomic.LoadInt64(&s.total),
		Failures:      failures,
		AvgLatency:    s.avgLatency,
		LastUsed:      s.lastUsed,
		CooldownUntil: s.cooldownUntil,
		Healthy:       failures < t.failureThreshold,
	}
	s.mu.Unlock()
	return snap
}

func pruneBefore(failures []time.Time, cutoff time.Time) []time.Time {
	kept := failures[:0]
	for _, f := range failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}
