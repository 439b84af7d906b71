package reference

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_FiresOnceOnClose(t *testing.T) {
	cc := &fakeCreate{}
	var fired atomic.Int32
	Watch(context.Background(), cc, WatchConfig{Interval: 2 * time.Millisecond, Max: time.Second}, func() {
		fired.Add(1)
	})

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	cc.closed.Store(true)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatch_GivesUpAfterMax(t *testing.T) {
	cc := &fakeCreate{}
	var fired atomic.Int32
	Watch(context.Background(), cc, WatchConfig{Interval: 2 * time.Millisecond, Max: 15 * time.Millisecond}, func() {
		fired.Add(1)
	})
	time.Sleep(40 * time.Millisecond)
	cc.closed.Store(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatch_Stop(t *testing.T) {
	cc := &fakeCreate{}
	var fired atomic.Int32
	stop := Watch(context.Background(), cc, WatchConfig{Interval: 2 * time.Millisecond}, func() { fired.Add(1) })
	stop()
	cc.closed.Store(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatchConfigDefaults(t *testing.T) {
	c := WatchConfig{}.withDefaults()
	assert.Equal(t, DefaultWatchInterval, c.Interval)
	assert.Equal(t, DefaultWatchMax, c.Max)
}
