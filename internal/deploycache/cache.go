// Package deploycache provides a TTL-bounded, mutation-guarded view
// of {model_name, org, team, model_type} -> resolved deployments. Concurrent refreshes of the same key are collapsed with
// singleflight; a stampede across distinct keys is tolerated.
package deploycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
)

// DefaultTTL is the global cache TTL.
const DefaultTTL = 60 * time.Second

// Fetcher performs the control-plane query on a cache miss.
// *controlplane.Store satisfies this.
type Fetcher interface {
	FetchDeployments(ctx context.Context, modelName, orgID, teamID string, modelType controlplane.ModelType) ([]controlplane.ResolvedDeployment, error)
}

// RemoteCache is the optional Redis-backed layer shared across gateway
// replicas. When nil, Cache runs purely in-process.
type RemoteCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type entry struct {
	deployments []controlplane.ResolvedDeployment
	cachedAt    time.Time
}

// HitMissRecorder receives cache hit/miss counts. *internal/metrics.Collector
// satisfies this.
type HitMissRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Cache is the process-wide deployment view.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	fetcher Fetcher
	remote  RemoteCache
	group   singleflight.Group
	metrics HitMissRecorder
	logger  *zap.Logger
}

// New builds a Cache. ttl<=0 selects DefaultTTL. remote may be nil.
func New(fetcher Fetcher, ttl time.Duration, remote RemoteCache, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		fetcher: fetcher,
		remote:  remote,
		logger:  logger,
	}
}

// SetMetrics attaches a hit/miss recorder. Set once at startup.
func (c *Cache) SetMetrics(m HitMissRecorder) { c.metrics = m }

func cacheKey(model, orgID, teamID string, modelType controlplane.ModelType) string {
	return fmt.Sprintf("%s:%s:%s:%s", model, orgID, teamID, modelType)
}

// Get returns the cached deployment list for (model, org, team, type),
// refreshing from the control plane on a miss or expiry. A returned entry
// always satisfies now-cachedAt < TTL, checked per-entry on every read.
// No partial entries: either the full filtered list is cached, or a fetch
// error is returned and nothing is cached.
func (c *Cache) Get(ctx context.Context, model, orgID, teamID string, modelType controlplane.ModelType) ([]controlplane.ResolvedDeployment, error) {
	key := cacheKey(model, orgID, teamID, modelType)

	if deployments, ok := c.readFresh(key); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit("deployments")
		}
		return deployments, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("deployments")
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another goroutine may have populated this key while we
		// waited to enter the singleflight group.
		if deployments, ok := c.readFresh(key); ok {
			return deployments, nil
		}
		if c.remote != nil {
			var cached []controlplane.ResolvedDeployment
			if err := c.remote.GetJSON(ctx, remoteKey(key), &cached); err == nil {
				c.store(key, cached)
				return cached, nil
			}
		}
		deployments, err := c.fetcher.FetchDeployments(ctx, model, orgID, teamID, modelType)
		if err != nil {
			return nil, err
		}
		c.store(key, deployments)
		if c.remote != nil {
			if err := c.remote.SetJSON(ctx, remoteKey(key), deployments, c.ttl); err != nil {
				c.logger.Warn("deploycache: remote write failed", zap.Error(err))
			}
		}
		return deployments, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]controlplane.ResolvedDeployment), nil
}

func (c *Cache) readFresh(key string) ([]controlplane.ResolvedDeployment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.cachedAt) >= c.ttl {
		return nil, false
	}
	return e.deployments, true
}

func (c *Cache) store(key string, deployments []controlplane.ResolvedDeployment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{deployments: deployments, cachedAt: time.Now()}
}

// Invalidate drops cached entries so the next Get refreshes from the
// control plane. model=="" drops every entry (a full-cache reset); a
// non-empty model drops only keys for that model, across every org/team.
// Must be called after any mutation to deployments, provider configs, team
// access, or pricing.
func (c *Cache) Invalidate(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model == "" {
		c.entries = make(map[string]entry)
		return
	}
	prefix := model + ":"
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

func remoteKey(key string) string { return "deploycache:" + key }
