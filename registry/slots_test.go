package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSlotPool_AcquireUntilExhausted(t *testing.T) {
	p := NewWaitSlotPool(2)
	assert.Equal(t, 2, p.Cap())

	s1, err := p.Acquire()
	require.NoError(t, err)
	s2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, s1.Index, s2.Index)
	assert.Equal(t, 2, p.InUse())

	_, err = p.Acquire()
	require.Error(t, err)
	assert.True(t, IsCapacity(err))

	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "wait slots", ce.Resource)
	assert.Equal(t, 2, ce.Capacity)

	assert.True(t, p.Signal(s1))
	assert.Equal(t, 1, p.InUse())

	s3, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, s1.Index, s3.Index, "freed index should be reused")
	assert.NotEqual(t, s1.Gen, s3.Gen)
}

func TestWaitSlotPool_DefaultCapacity(t *testing.T) {
	p := NewWaitSlotPool(0)
	assert.Equal(t, DefaultWaitSlots, p.Cap())
}

func TestWaitSlotPool_SignalWakesAllWaiters(t *testing.T) {
	p := NewWaitSlotPool(4)
	s, err := p.Acquire()
	require.NoError(t, err)

	const waiters = 5
	done := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			done <- s.Wait(context.Background())
		}()
	}

	assert.False(t, s.Signaled())
	require.True(t, p.Signal(s))
	assert.True(t, s.Signaled())

	for i := 0; i < waiters; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	}
}

func TestWaitSlotPool_StaleSignalIgnored(t *testing.T) {
	p := NewWaitSlotPool(1)
	old, err := p.Acquire()
	require.NoError(t, err)
	require.True(t, p.Signal(old))

	fresh, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, old.Index, fresh.Index)

	assert.False(t, p.Signal(old), "stale token must not signal the reacquired slot")
	assert.False(t, fresh.Signaled())
	assert.Equal(t, 1, p.InUse())

	assert.False(t, p.Signal(Slot{Index: 7}))
}

func TestSlot_WaitHonorsContext(t *testing.T) {
	p := NewWaitSlotPool(1)
	s, err := p.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlot_ZeroValueNeverBlocks(t *testing.T) {
	var s Slot
	assert.NoError(t, s.Wait(context.Background()))
	assert.True(t, s.Signaled())
}
