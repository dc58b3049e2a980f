package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_HealthyByDefault(t *testing.T) {
	tr := New(0, 0)

	assert.True(t, tr.IsHealthy("dep-1"))
	assert.Equal(t, int64(0), tr.InFlight("dep-1"))
}

func TestTracker_CooldownOpensAtThreshold(t *testing.T) {
	tr := New(time.Minute, 3)

	assert.False(t, tr.RecordFailure("dep-1"))
	assert.True(t, tr.IsHealthy("dep-1"))

	assert.False(t, tr.RecordFailure("dep-1"))
	assert.True(t, tr.IsHealthy("dep-1"))

	// Third failure within the window trips the threshold.
	assert.True(t, tr.RecordFailure("dep-1"))
	assert.False(t, tr.IsHealthy("dep-1"))
}

func TestTracker_FailuresAgeOut(t *testing.T) {
	tr := New(50*time.Millisecond, 3)

	tr.RecordFailure("dep-1")
	tr.RecordFailure("dep-1")
	tr.RecordFailure("dep-1")
	require.False(t, tr.IsHealthy("dep-1"))

	// Once the window passes with no new failures, the deployment
	// returns to healthy with no explicit close call.
	time.Sleep(80 * time.Millisecond)
	assert.True(t, tr.IsHealthy("dep-1"))
}

func TestTracker_RecordSuccessClearsWindow(t *testing.T) {
	tr := New(time.Minute, 3)

	tr.RecordFailure("dep-1")
	tr.RecordFailure("dep-1")
	tr.RecordFailure("dep-1")
	require.False(t, tr.IsHealthy("dep-1"))

	tr.RecordSuccess("dep-1", 100*time.Millisecond)
	assert.True(t, tr.IsHealthy("dep-1"))
	assert.Equal(t, 0, tr.Snapshot("dep-1").Failures)
}

func TestTracker_LatencyEWMA(t *testing.T) {
	tr := New(time.Minute, 3)

	// First sample sets the average directly.
	tr.RecordSuccess("dep-1", time.Second)
	assert.Equal(t, time.Second, tr.AvgLatency("dep-1"))

	// Subsequent samples fold in as 0.7*avg + 0.3*latency.
	tr.RecordSuccess("dep-1", 2*time.Second)
	want := time.Duration(0.7*float64(time.Second) + 0.3*float64(2*time.Second))
	assert.InDelta(t, float64(want), float64(tr.AvgLatency("dep-1")), float64(time.Millisecond))
}

func TestTracker_InFlightBalances(t *testing.T) {
	tr := New(time.Minute, 3)

	tr.IncrInFlight("dep-1")
	tr.IncrInFlight("dep-1")
	assert.Equal(t, int64(2), tr.InFlight("dep-1"))

	tr.DecrInFlight("dep-1")
	tr.DecrInFlight("dep-1")
	assert.Equal(t, int64(0), tr.InFlight("dep-1"))
}

func TestTracker_SnapshotCounters(t *testing.T) {
	tr := New(time.Minute, 3)

	tr.IncrTotal("dep-1")
	tr.IncrTotal("dep-1")
	tr.IncrInFlight("dep-1")
	tr.RecordFailure("dep-1")

	snap := tr.Snapshot("dep-1")
	assert.Equal(t, "dep-1", snap.DeploymentID)
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.InFlight)
	assert.Equal(t, 1, snap.Failures)
	assert.True(t, snap.Healthy)
}

func TestTracker_OnCooldownOpenFiresOncePerOpen(t *testing.T) {
	tr := New(time.Minute, 2)

	var opened []string
	tr.OnCooldownOpen(func(id string) { opened = append(opened, id) })

	tr.RecordFailure("dep-1")
	assert.Empty(t, opened)

	tr.RecordFailure("dep-1")
	assert.Equal(t, []string{"dep-1"}, opened)

	// Additional failures while the cooldown is already open don't
	// re-fire the hook.
	tr.RecordFailure("dep-1")
	assert.Equal(t, []string{"dep-1"}, opened)
}

func TestKeyLimiter_DisabledAlwaysAllows(t *testing.T) {
	l := NewKeyLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("key-1"))
	}
}

func TestKeyLimiter_RPMBurstExhausts(t *testing.T) {
	l := NewKeyLimiter(5, 0)

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("key-1") {
			allowed++
		}
	}
	// The token bucket starts full at the burst size (rpm) and refills
	// far too slowly for this loop to earn more.
	assert.Equal(t, 5, allowed)

	// Other keys are unaffected.
	assert.True(t, l.Allow("key-2"))
}

func TestKeyLimiter_RPDCaps(t *testing.T) {
	l := NewKeyLimiter(0, 3)

	assert.True(t, l.Allow("key-1"))
	assert.True(t, l.Allow("key-1"))
	assert.True(t, l.Allow("key-1"))
	assert.False(t, l.Allow("key-1"))
}
