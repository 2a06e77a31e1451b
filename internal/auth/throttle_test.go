package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginThrottle_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{}).WithClock(clock.Now)

	for i := 0; i < DefaultLoginMaxAttempts; i++ {
		require.True(t, th.Allow("a@x.com"), "attempt %d", i+1)
		clock.Advance(5 * time.Second)
	}
	assert.False(t, th.Allow("a@x.com"))

	// Rejections are not recorded, so the first attempt is the one that
	// must age out.
	clock.Advance(35*time.Second - time.Nanosecond)
	assert.False(t, th.Allow("a@x.com"))
	clock.Advance(time.Nanosecond)
	assert.True(t, th.Allow("a@x.com"))
	assert.False(t, th.Allow("a@x.com"))
}

func TestLoginThrottle_FullWindowReset(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{MaxAttempts: 5, Window: time.Minute}).WithClock(clock.Now)

	for i := 0; i < 5; i++ {
		require.True(t, th.Allow("a@x.com"))
	}
	require.False(t, th.Allow("a@x.com"))

	clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, th.Allow("a@x.com"))
	}
}

func TestLoginThrottle_KeysAreIndependent(t *testing.T) {
	th := NewLoginThrottle(ThrottleOptions{MaxAttempts: 1})

	assert.True(t, th.Allow("a@x.com"))
	assert.False(t, th.Allow("a@x.com"))
	assert.True(t, th.Allow("A@x.com"), "identity is matched exactly as submitted")
	assert.True(t, th.Allow("b@x.com"))
}

func TestLoginThrottle_ConcurrentSameIdentity(t *testing.T) {
	th := NewLoginThrottle(ThrottleOptions{})

	const n = 50
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if th.Allow("race@x.com") {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, DefaultLoginMaxAttempts, allowed.Load())
}

func TestLoginThrottle_Sweep(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{}).WithClock(clock.Now)

	th.Allow("old@x.com")
	clock.Advance(30 * time.Second)
	th.Allow("new@x.com")
	require.Equal(t, 2, th.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, th.Sweep())
	assert.Equal(t, 1, th.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, th.Sweep())
	assert.Equal(t, 0, th.Len())
}

func TestLoginThrottle_MaxKeys(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{MaxAttempts: 2, MaxKeys: 3}).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		require.True(t, th.Allow(fmt.Sprintf("user%d@x.com", i)))
		clock.Advance(time.Second)
	}
	// user1 and user2 record a second attempt, leaving user0 the oldest.
	th.Allow("user1@x.com")
	th.Allow("user2@x.com")

	require.True(t, th.Allow("fresh@x.com"))
	assert.Equal(t, 3, th.Len())

	// user1 is still limited; user0 was evicted and starts over.
	assert.False(t, th.Allow("user1@x.com"))
	assert.True(t, th.Allow("user0@x.com"))
}

func TestLoginThrottle_MaxKeysKeepsBlockedIdentity(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{MaxKeys: 3}).WithClock(clock.Now)

	for i := 0; i < DefaultLoginMaxAttempts; i++ {
		require.True(t, th.Allow("victim@x.com"))
	}
	require.False(t, th.Allow("victim@x.com"))

	for i := 0; i < 3; i++ {
		clock.Advance(time.Millisecond)
		require.True(t, th.Allow(fmt.Sprintf("spray%d@x.com", i)))
	}
	assert.LessOrEqual(t, th.Len(), 3)
	assert.False(t, th.Allow("victim@x.com"))
}

func TestLoginThrottle_MaxKeysAllBlocked(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{MaxAttempts: 1, MaxKeys: 2}).WithClock(clock.Now)

	require.True(t, th.Allow("a@x.com"))
	require.True(t, th.Allow("b@x.com"))
	require.True(t, th.Allow("c@x.com"))
	assert.Equal(t, 3, th.Len())
	assert.False(t, th.Allow("a@x.com"))
	assert.False(t, th.Allow("b@x.com"))

	clock.Advance(time.Minute)
	assert.Equal(t, 3, th.Sweep())
}

func TestLoginThrottle_MaxKeysPrefersStale(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{MaxAttempts: 1, MaxKeys: 2}).WithClock(clock.Now)

	th.Allow("stale@x.com")
	clock.Advance(2 * time.Minute)
	th.Allow("live@x.com")

	require.True(t, th.Allow("third@x.com"))
	assert.Equal(t, 2, th.Len())
	assert.False(t, th.Allow("live@x.com"))
}

func TestLoginThrottle_Janitor(t *testing.T) {
	clock := newFakeClock()
	th := NewLoginThrottle(ThrottleOptions{}).WithClock(clock.Now)
	th.Allow("a@x.com")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return th.Len() == 0 }, time.Second, 5*time.Millisecond)
}
