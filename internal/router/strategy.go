package router

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/cooldown"
)

// Strategy names one of the five deployment selection rules.
type Strategy string

const (
	StrategySimpleShuffle Strategy = "simple-shuffle"
	StrategyLeastBusy     Strategy = "least-busy"
	StrategyLatencyBased  Strategy = "latency-based"
	StrategyPriorityBased Strategy = "priority-based"
	StrategyRoundRobin    Strategy = "round-robin"
)

// roundRobinCounters holds one atomic counter per public model name, so
// round-robin fairness is scoped to the model, not to one deployment-list
// value.
type roundRobinCounters struct {
	mu       sync.Mutex
	counters map[string]*uint64
}

func newRoundRobinCounters() *roundRobinCounters {
	return &roundRobinCounters{counters: make(map[string]*uint64)}
}

func (r *roundRobinCounters) next(model string) uint64 {
	r.mu.Lock()
	c, ok := r.counters[model]
	if !ok {
		var zero uint64
		c = &zero
		r.counters[model] = c
	}
	r.mu.Unlock()
	return atomic.AddUint64(c, 1) - 1
}

// Select picks one deployment from candidates (already filtered to the
// healthy set) according to strategy.
func Select(strategy Strategy, candidates []controlplane.ResolvedDeployment, tracker *cooldown.Tracker, rr *roundRobinCounters, model string) controlplane.ResolvedDeployment {
	switch strategy {
	case StrategyLeastBusy:
		return selectLeastBusy(candidates, tracker)
	case StrategyLatencyBased:
		return selectLatencyBased(candidates, tracker)
	case StrategyPriorityBased:
		return selectPriorityBased(candidates)
	case StrategyRoundRobin:
		idx := rr.next(model) % uint64(len(candidates))
		return candidates[idx]
	case StrategySimpleShuffle:
		fallthrough
	default:
		return candidates[rand.IntN(len(candidates))]
	}
}

func selectLeastBusy(candidates []controlplane.ResolvedDeployment, tracker *cooldown.Tracker) controlplane.ResolvedDeployment {
	best := []controlplane.ResolvedDeployment{candidates[0]}
	bestLoad := tracker.InFlight(candidates[0].Deployment.ID)
	for _, c := range candidates[1:] {
		load := tracker.InFlight(c.Deployment.ID)
		if load < bestLoad {
			bestLoad = load
			best = []controlplane.ResolvedDeployment{c}
		} else if load == bestLoad {
			best = append(best, c)
		}
	}
	return best[rand.IntN(len(best))]
}

// selectLatencyBased picks the minimum EWMA latency. Unsampled deployments
// (avg_latency == 0) are treated as infinitely slow, so a measured
// deployment is always preferred over an untried one.
func selectLatencyBased(candidates []controlplane.ResolvedDeployment, tracker *cooldown.Tracker) controlplane.ResolvedDeployment {
	type scored struct {
		d       controlplane.ResolvedDeployment
		latency int64
		sampled bool
	}
	scoredList := make([]scored, len(candidates))
	for i, c := range candidates {
		lat := tracker.AvgLatency(c.Deployment.ID)
		scoredList[i] = scored{d: c, latency: int64(lat), sampled: lat > 0}
	}
	best := []scored{scoredList[0]}
	better := func(a, b scored) bool {
		if a.sampled != b.sampled {
			return a.sampled // sampled beats unsampled regardless of value
		}
		if !a.sampled {
			return false // both unsampled: tie
		}
		return a.latency < b.latency
	}
	for _, s := range scoredList[1:] {
		switch {
		case better(s, best[0]):
			best = []scored{s}
		case !better(best[0], s) && s.latency == best[0].latency && s.sampled == best[0].sampled:
			best = append(best, s)
		}
	}
	choice := best[rand.IntN(len(best))]
	return choice.d
}

func selectPriorityBased(candidates []controlplane.ResolvedDeployment) controlplane.ResolvedDeployment {
	maxPriority := candidates[0].Deployment.Priority
	for _, c := range candidates[1:] {
		if c.Deployment.Priority > maxPriority {
			maxPriority = c.Deployment.Priority
		}
	}
	atMax := make([]controlplane.ResolvedDeployment, 0, len(candidates))
	for _, c := range candidates {
		if c.Deployment.Priority == maxPriority {
			atMax = append(atMax, c)
		}
	}
	return atMax[rand.IntN(len(atMax))]
}
