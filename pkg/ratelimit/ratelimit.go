// Package ratelimit provides a per-client token bucket guarding the
// session and transcription endpoints.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/medvoice/voice-emr/pkg/logger"
)

// Limiter tracks one token bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	period  time.Duration

	now func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// New builds a limiter allowing limit requests per period per client.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow reports whether the client may proceed and consumes a token when
// it may.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.limit), lastRefill: now}
		l.buckets[key] = b
	}

	refill := now.Sub(b.lastRefill).Seconds() * float64(l.limit) / l.period.Seconds()
	b.tokens += refill
	if b.tokens > float64(l.limit) {
		b.tokens = float64(l.limit)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Prune drops buckets idle longer than maxIdle.
func (l *Limiter) Prune(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	for key, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// StartPruning prunes idle buckets on the given interval until stop is
// closed.
func (l *Limiter) StartPruning(interval, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Prune(maxIdle)
			}
		}
	}()
}

// Middleware rejects clients over the limit with 429. Clients are keyed
// by remote host.
func (l *Limiter) Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				key = r.RemoteAddr
			}
			if !l.Allow(key) {
				log.WithField("client", key).Warn("Rate limit exceeded")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
