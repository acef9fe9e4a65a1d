package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterSweepInterval = 5 * time.Minute
	rateLimiterIdleTTL       = 10 * time.Minute
)

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// Limits bounds inbound client connections. A zero value for any bound turns
// that check off. Limits is safe for concurrent use.
type Limits struct {
	maxSessions int64
	current     atomic.Int64

	maxPerIP int
	ipMu     sync.Mutex
	ips      map[string]int

	rate    *acceptRateLimiter
	enabled bool
}

// NewLimits builds connection limits. clock may be nil for the real clock.
func NewLimits(maxSessions, maxPerIP int, acceptRate float64, acceptBurst int, clock clockwork.Clock) *Limits {
	l := &Limits{
		maxSessions: int64(maxSessions),
		maxPerIP:    maxPerIP,
		ips:         make(map[string]int),
	}
	if acceptRate > 0 {
		if acceptBurst <= 0 {
			acceptBurst = 1
		}
		l.rate = newAcceptRateLimiter(acceptRate, acceptBurst, clock)
	}
	l.enabled = maxSessions > 0 || maxPerIP > 0 || l.rate != nil
	return l
}

// Acquire reserves a slot for a connection from ip. On failure nothing is held.
func (l *Limits) Acquire(ip string) (bool, LimitReason) {
	if l == nil || !l.enabled {
		return true, ""
	}
	if l.rate != nil && !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.releaseGlobal()
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns the slot held for ip.
func (l *Limits) Release(ip string) {
	if l == nil || !l.enabled {
		return
	}
	l.releaseIP(ip)
	l.releaseGlobal()
}

// Current returns the number of held global slots.
func (l *Limits) Current() int64 {
	if l == nil {
		return 0
	}
	return l.current.Load()
}

// CountIP returns the number of held slots for ip.
func (l *Limits) CountIP(ip string) int {
	if l == nil {
		return 0
	}
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return l.ips[ip]
}

func (l *Limits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if l.maxSessions > 0 && current >= l.maxSessions {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *Limits) releaseGlobal() {
	l.current.Add(-1)
}

func (l *Limits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if l.maxPerIP > 0 && l.ips[ip] >= l.maxPerIP {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *Limits) releaseIP(ip string) {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

// acceptRateLimiter is a token bucket per client IP. Buckets idle for longer
// than rateLimiterIdleTTL are swept lazily.
type acceptRateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	rate     rate.Limit
	burst    int
	sweepAt  time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAcceptRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *acceptRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &acceptRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		sweepAt:  clock.Now().Add(rateLimiterSweepInterval),
	}
}

func (r *acceptRateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.After(r.sweepAt) {
		r.sweep(now)
		r.sweepAt = now.Add(rateLimiterSweepInterval)
	}

	entry, ok := r.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep must be called with mu held.
func (r *acceptRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleTTL)
	for ip, entry := range r.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(r.limiters, ip)
		}
	}
}

func (r *acceptRateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
