package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/resilience"
)

// Pricer prices a response's token usage.
type Pricer interface {
	Price(modelID string, u model.TokenUsage) float64
}

// PoolConfig bounds the calls made through a Pool.
type PoolConfig struct {
	MaxConcurrency   int
	RPS              float64
	Burst            int
	CallTimeout      time.Duration
	BreakerThreshold int
	BreakerResetSecs int
}

// Pool is the process-wide gate in front of a Generator. Every run shares
// one Pool, so its concurrency and rate caps hold across runs. The pool never
// retries; a failed call is returned to the caller as a unit failure.
type Pool struct {
	gen     Generator
	sem     *semaphore.Weighted
	limiter *resilience.AdaptiveLimiter
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	pricer  Pricer

	calls atomic.Int64
}

// NewPool wraps gen. pricer may be nil.
func NewPool(gen Generator, cfg PoolConfig, pricer Pricer) *Pool {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 20
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}

	breakerCfg := resilience.NewCircuitBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	name := gen.Name()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("llm: circuit state change",
			zap.String("backend", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Pool{
		gen:     gen,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limiter: resilience.NewAdaptiveLimiter(name, rate.Limit(cfg.RPS), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		timeout: cfg.CallTimeout,
		pricer:  pricer,
	}
}

// Name implements Generator.
func (p *Pool) Name() string { return p.gen.Name() }

// Generate implements Generator. It waits for a concurrency slot and a rate
// token, then makes one bounded call.
func (p *Pool) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "llm: acquire slot")
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llm: rate wait")
	}

	p.calls.Add(1)
	resp, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.gen.Generate(callCtx, req)
	})
	if err != nil {
		if Throttled(err) {
			p.limiter.OnThrottle()
		}
		return nil, err
	}
	p.limiter.OnSuccess()

	if p.pricer != nil {
		resp.Usage.Cost = p.pricer.Price(resp.Model, resp.Usage)
	}
	return resp, nil
}

// Calls returns the number of calls dispatched to the backend, including
// those rejected by an open circuit.
func (p *Pool) Calls() int64 { return p.calls.Load() }

// Limit returns the current adaptive rate.
func (p *Pool) Limit() rate.Limit { return p.limiter.Limit() }

// Circuit returns the breaker state.
func (p *Pool) Circuit() resilience.CircuitState { return p.breaker.State() }
