package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultLoginMaxAttempts = 5
	DefaultLoginWindow      = time.Minute
	DefaultLoginMaxKeys     = 10000
)

// ThrottleOptions configures a LoginThrottle. Zero values select defaults.
type ThrottleOptions struct {
	MaxAttempts int
	Window      time.Duration
	MaxKeys     int
	Logger      *zap.Logger
}

// LoginThrottle is a sliding-window counter of login attempts keyed by the
// email exactly as submitted. It lives in process memory only.
type LoginThrottle struct {
	mu       sync.Mutex
	attempts map[string][]time.Time

	maxAttempts int
	window      time.Duration
	maxKeys     int
	now         func() time.Time
	log         *zap.Logger
}

// NewLoginThrottle builds an empty throttle.
func NewLoginThrottle(opts ThrottleOptions) *LoginThrottle {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultLoginMaxAttempts
	}
	if opts.Window <= 0 {
		opts.Window = DefaultLoginWindow
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultLoginMaxKeys
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LoginThrottle{
		attempts:    make(map[string][]time.Time),
		maxAttempts: opts.MaxAttempts,
		window:      opts.Window,
		maxKeys:     opts.MaxKeys,
		now:         time.Now,
		log:         opts.Logger,
	}
}

// WithClock replaces the time source, for tests.
func (t *LoginThrottle) WithClock(now func() time.Time) *LoginThrottle {
	if now != nil {
		t.now = now
	}
	return t
}

// Allow reports whether identity may attempt a login now and, if so, records
// the attempt. The attempt counts whatever the outcome of the credential
// check. Rejected calls record nothing.
func (t *LoginThrottle) Allow(identity string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	live, known := t.attempts[identity]
	live = t.prune(live, now)
	if len(live) >= t.maxAttempts {
		t.attempts[identity] = live
		return false
	}
	if !known && len(t.attempts) >= t.maxKeys {
		t.makeRoom(now)
	}
	t.attempts[identity] = append(live, now)
	return true
}

// Sweep drops identities with no attempt left inside the window and returns
// how many were removed.
func (t *LoginThrottle) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now)
}

// Len returns the number of tracked identities.
func (t *LoginThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

// StartJanitor sweeps stale identities every interval until ctx is done.
func (t *LoginThrottle) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := t.Sweep(); n > 0 {
					t.log.Debug("login throttle sweep", zap.Int("removed", n), zap.Int("tracked", t.Len()))
				}
			}
		}
	}()
}

// prune drops the expired prefix. Timestamps are appended in order, so the
// live ones are a suffix.
func (t *LoginThrottle) prune(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= t.window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

func (t *LoginThrottle) sweepLocked(now time.Time) int {
	removed := 0
	for k, ts := range t.attempts {
		if len(ts) == 0 || now.Sub(ts[len(ts)-1]) >= t.window {
			delete(t.attempts, k)
			removed++
		}
	}
	return removed
}

// makeRoom frees one slot: stale identities first, then the unblocked
// identity with the fewest live attempts, oldest latest attempt breaking
// ties. Blocked identities are never evicted; when every tracked identity is
// blocked the map grows past maxKeys until the janitor catches up.
func (t *LoginThrottle) makeRoom(now time.Time) {
	if t.sweepLocked(now) > 0 {
		return
	}
	var (
		victim string
		fewest int
		oldest time.Time
		found  bool
	)
	for k, ts := range t.attempts {
		n := t.liveCount(ts, now)
		if n >= t.maxAttempts {
			continue
		}
		last := ts[len(ts)-1]
		if !found || n < fewest || (n == fewest && last.Before(oldest)) {
			victim, fewest, oldest, found = k, n, last, true
		}
	}
	if found {
		delete(t.attempts, victim)
	}
}

func (t *LoginThrottle) liveCount(ts []time.Time, now time.Time) int {
	n := 0
	for i := len(ts) - 1; i >= 0 && now.Sub(ts[i]) < t.window; i-- {
		n++
	}
	return n
}
