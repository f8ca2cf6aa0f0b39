package rsocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInboundCreditTrackerRequestsBatchBelowHalfWatermark(t *testing.T) {
	tr := NewInboundCreditTracker(10)

	var requested uint32
	for i := 0; i < 5; i++ {
		requested = tr.Consume()
	}
	// after 5 consumes, remaining=5, batch=10: 5*2 == 10, not < 10, so no
	// replenishment is due yet.
	assert.Zero(t, requested)

	requested = tr.Consume() // remaining now 4; 4*2 < 10
	assert.EqualValues(t, 10, requested)
}

func TestInboundCreditTrackerZeroBatchNeverRequests(t *testing.T) {
	tr := NewInboundCreditTracker(0)
	assert.Zero(t, tr.Consume())
}

func TestLeaseStateDisabledAllowsEverything(t *testing.T) {
	l := NewLeaseState()
	assert.True(t, l.Allow())
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLeaseStateUpdateGatesByQuota(t *testing.T) {
	l := NewLeaseState()
	l.Update(uint32(time.Minute/time.Millisecond), 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "third request should exceed the granted quota")
}

func TestLeaseStateExpiresAfterTTL(t *testing.T) {
	l := NewLeaseState()
	l.Update(1, 5) // 1ms TTL
	time.Sleep(20 * time.Millisecond)
	assert.False(t, l.Allow(), "lease should be expired")
}
