// Package resilience provides request throttling primitives for the HTTP
// surface. This protects the local server from runaway browser clients; it is
// not rate shaping toward the AI service.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures per-key token bucket limiters.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// MaxIdle is how long an unused key's bucket is kept before being purged.
	MaxIdle time.Duration
}

// DefaultLimiterOpts provides sensible defaults for a single-user app.
var DefaultLimiterOpts = LimiterOpts{
	Rate:    5,
	Burst:   10,
	MaxIdle: 30 * time.Minute,
}

// KeyedLimiter maintains one token bucket per key (typically the remote
// address of a browser session).
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a KeyedLimiter.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Rate <= 0 {
		opts.Rate = DefaultLimiterOpts.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultLimiterOpts.Burst
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = DefaultLimiterOpts.MaxIdle
	}
	return &KeyedLimiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.opts.Rate), l.opts.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	l.purgeLocked(now)
	return b.lim.Allow()
}

// purgeLocked drops buckets idle longer than MaxIdle. Must hold mu.
func (l *KeyedLimiter) purgeLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.opts.MaxIdle {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
