package async

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/corpipe/errors"
)

// RateLimiter gates how fast the worker pool starts jobs
type RateLimiter interface {
	Allow() error
	Stats() (callsInWindow int, callsRemaining int)
}

// ErrRateLimited is returned by Limiter.Allow when the budget is spent
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter is a token bucket allowing maxPerMinute job starts per minute
// with a burst of the same size.
type Limiter struct {
	limiter      *rate.Limiter
	maxPerMinute int

	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time
}

// NewLimiter creates a limiter for maxPerMinute job starts per minute.
// Returns nil when maxPerMinute is 0 (unlimited).
func NewLimiter(maxPerMinute int) *Limiter {
	return NewLimiterWithClock(maxPerMinute, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock (for testing)
func NewLimiterWithClock(maxPerMinute int, timeNow func() time.Time) *Limiter {
	if maxPerMinute <= 0 {
		return nil
	}
	perSecond := rate.Limit(float64(maxPerMinute) / 60.0)
	return &Limiter{
		limiter:      rate.NewLimiter(perSecond, maxPerMinute),
		maxPerMinute: maxPerMinute,
		timeNow:      timeNow,
	}
}

// Allow consumes one token or reports ErrRateLimited
func (l *Limiter) Allow() error {
	now := l.timeNow()
	if !l.limiter.AllowN(now, 1) {
		err := errors.Wrapf(ErrRateLimited, "%d jobs per minute", l.maxPerMinute)
		return errors.WithDetail(err, fmt.Sprintf("Tokens available: %.2f", l.limiter.TokensAt(now)))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.callTimes = append(l.pruneLocked(now), now)
	return nil
}

// Stats reports the starts within the last minute and the tokens left
func (l *Limiter) Stats() (callsInWindow int, callsRemaining int) {
	now := l.timeNow()

	l.mu.Lock()
	l.callTimes = l.pruneLocked(now)
	callsInWindow = len(l.callTimes)
	l.mu.Unlock()

	return callsInWindow, int(math.Floor(l.limiter.TokensAt(now)))
}

func (l *Limiter) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.callTimes) && !l.callTimes[i].After(cutoff) {
		i++
	}
	return l.callTimes[i:]
}
