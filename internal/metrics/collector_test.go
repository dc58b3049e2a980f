package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// promauto registers into the default registry, so each test needs its
// own namespace to avoid duplicate-registration panics.
var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.dispatchTotal)
	assert.NotNil(t, collector.dispatchDuration)
	assert.NotNil(t, collector.tokensUsed)
	assert.NotNil(t, collector.spendTotal)
	assert.NotNil(t, collector.cooldownOpened)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordDispatch(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDispatch("openai", "gpt-4o-mini", "success", 500*time.Millisecond, 100, 50)

	assert.Greater(t, testutil.CollectAndCount(collector.dispatchTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.tokensUsed), 0)

	promptTokens := testutil.ToFloat64(collector.tokensUsed.WithLabelValues("openai", "gpt-4o-mini", "prompt"))
	assert.Equal(t, 100.0, promptTokens)
}

func TestCollector_RecordSpend(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordSpend("gpt-4o", "anthropic", 0.0125)
	collector.RecordSpend("gpt-4o", "anthropic", 0.0125)

	total := testutil.ToFloat64(collector.spendTotal.WithLabelValues("gpt-4o", "anthropic"))
	assert.InDelta(t, 0.025, total, 1e-9)
}

func TestCollector_RecordCooldownOpened(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCooldownOpened("dep-1")
	collector.RecordCooldownOpened("dep-1")
	collector.RecordCooldownOpened("dep-2")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cooldownOpened.WithLabelValues("dep-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cooldownOpened.WithLabelValues("dep-2")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("deployments")
	collector.RecordCacheMiss("deployments")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordDispatch("openai", "gpt-4o", "success", 500*time.Millisecond, 100, 50)
			collector.RecordCacheHit("deployments")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.httpRequestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.dispatchTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
}
