package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter that speeds up on success and backs
// off when the upstream signals throttling. The rate stays within
// [initial/4, initial*2].
type AdaptiveLimiter struct {
	name string

	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter. A non-positive rate
// disables limiting.
func NewAdaptiveLimiter(name string, initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if initialRate <= 0 {
		initialRate = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &AdaptiveLimiter{
		name:        name,
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.setRate(func(r rate.Limit) rate.Limit { return min(r*1.2, a.maxRate) })
}

// OnThrottle halves the rate.
func (a *AdaptiveLimiter) OnThrottle() {
	r := a.setRate(func(r rate.Limit) rate.Limit { return max(r*0.5, a.minRate) })
	zap.L().Warn("resilience: throttled, reducing rate",
		zap.String("limiter", a.name),
		zap.Float64("new_rate", float64(r)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

func (a *AdaptiveLimiter) setRate(next func(rate.Limit) rate.Limit) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return a.currentRate
	}
	a.currentRate = next(a.currentRate)
	a.limiter.SetLimit(a.currentRate)
	return a.currentRate
}
