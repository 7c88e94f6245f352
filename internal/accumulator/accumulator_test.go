package accumulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstTickCapturesBaselineOnly(t *testing.T) {
	a := New("HomeWiFi")

	delta, transition := a.Tick("HomeWiFi", 1000, 2000)

	assert.Equal(t, TransitionAssociated, transition)
	assert.Equal(t, int64(0), delta.Total())
	assert.True(t, a.Associated())
}

func TestDeltasMatchCounterMovement(t *testing.T) {
	a := New("HomeWiFi")
	a.Tick("HomeWiFi", 1000, 2000)

	delta, transition := a.Tick("HomeWiFi", 1500, 2600)

	assert.Equal(t, TransitionNone, transition)
	assert.Equal(t, int64(500), delta.BytesSent)
	assert.Equal(t, int64(600), delta.BytesReceived)
	assert.Equal(t, int64(1100), delta.Total())
}

func TestIdleTickYieldsZeroDelta(t *testing.T) {
	a := New("HomeWiFi")
	a.Tick("HomeWiFi", 1000, 2000)

	delta, _ := a.Tick("HomeWiFi", 1000, 2000)

	assert.Equal(t, int64(0), delta.Total())
}

func TestCounterResetClampsToZero(t *testing.T) {
	a := New("HomeWiFi")
	a.Tick("HomeWiFi", 1000, 2000)

	// counters went backwards: reboot or driver reset
	delta, _ := a.Tick("HomeWiFi", 100, 200)
	assert.Equal(t, int64(0), delta.BytesSent)
	assert.Equal(t, int64(0), delta.BytesReceived)

	// baseline re-captured the same tick, so the next interval meters again
	delta, _ = a.Tick("HomeWiFi", 150, 300)
	assert.Equal(t, int64(50), delta.BytesSent)
	assert.Equal(t, int64(100), delta.BytesReceived)
}

func TestSidesClampIndependently(t *testing.T) {
	a := New("HomeWiFi")
	a.Tick("HomeWiFi", 1000, 2000)

	delta, _ := a.Tick("HomeWiFi", 400, 2700)

	assert.Equal(t, int64(0), delta.BytesSent)
	assert.Equal(t, int64(700), delta.BytesReceived)
}

func TestDisassociationResetsBaseline(t *testing.T) {
	a := New("HomeWiFi")
	a.Tick("HomeWiFi", 1000, 2000)

	delta, transition := a.Tick("Neighbor", 9999, 9999)
	assert.Equal(t, TransitionDisassociated, transition)
	assert.Equal(t, int64(0), delta.Total())
	assert.False(t, a.Associated())

	// rejoin: baseline capture only, nothing carried across the gap
	delta, transition = a.Tick("HomeWiFi", 5000, 6000)
	assert.Equal(t, TransitionAssociated, transition)
	assert.Equal(t, int64(0), delta.Total())

	delta, _ = a.Tick("HomeWiFi", 5100, 6200)
	assert.Equal(t, int64(100), delta.BytesSent)
	assert.Equal(t, int64(200), delta.BytesReceived)
}

func TestEmptyNetworkNeverAssociates(t *testing.T) {
	a := New("")

	delta, transition := a.Tick("", 1000, 2000)

	assert.Equal(t, TransitionNone, transition)
	assert.Equal(t, int64(0), delta.Total())
	assert.False(t, a.Associated())
}

func TestEmptyTargetMetersAnyNetwork(t *testing.T) {
	a := New("")
	a.Tick("CafeWiFi", 1000, 2000)

	delta, _ := a.Tick("CafeWiFi", 1200, 2300)
	assert.Equal(t, int64(500), delta.Total())

	// switching networks re-baselines even without a target
	_, transition := a.Tick("HomeWiFi", 50000, 60000)
	assert.Equal(t, TransitionAssociated, transition)

	delta, _ = a.Tick("HomeWiFi", 50010, 60020)
	assert.Equal(t, int64(30), delta.Total())
}

func TestNonTargetNetworkIsIgnored(t *testing.T) {
	a := New("HomeWiFi")

	delta, transition := a.Tick("Neighbor", 1000, 2000)

	assert.Equal(t, TransitionNone, transition)
	assert.Equal(t, int64(0), delta.Total())
	assert.False(t, a.Associated())
}

func TestDeltasNeverNegative(t *testing.T) {
	a := New("HomeWiFi")

	samples := []struct{ sent, received int64 }{
		{1000, 2000}, {1500, 1800}, {200, 90000}, {180, 91000}, {5000, 100},
	}
	for _, s := range samples {
		delta, _ := a.Tick("HomeWiFi", s.sent, s.received)
		assert.GreaterOrEqual(t, delta.BytesSent, int64(0))
		assert.GreaterOrEqual(t, delta.BytesReceived, int64(0))
		assert.Equal(t, delta.BytesSent+delta.BytesReceived, delta.Total())
	}
}
