package assist

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

// GuardConfig limits how often an external service is called and when to
// stop calling it.
type GuardConfig struct {
	// RatePerMinute - requests per minute (0 = unlimited)
	RatePerMinute int
	Burst         int

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// guard combines a rate limiter with a circuit breaker around one service.
type guard struct {
	name     string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	observer Observer
	logger   *zap.Logger
}

func newGuard(name string, cfg GuardConfig, observer Observer, logger *zap.Logger) *guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &guard{name: name, observer: observer, logger: logger}

	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), burst)
	}

	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Rejected input is the caller's fault, not a sign the service is down.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || isClientError(err)
		},
	})

	return g
}

func (g *guard) call(ctx context.Context, fn func() (string, error)) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.observe(OutcomeRejected)
			return "", err
		}
	}

	out, err := g.breaker.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.observe(OutcomeRejected)
		return "", apperrors.ErrExternalService.WithMessage("%s temporarily disabled after repeated failures", g.name).WithCause(err)
	case err != nil:
		g.observe(OutcomeError)
		return "", err
	}
	g.observe(OutcomeOK)
	return out, nil
}

func (g *guard) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveAssistCall(g.name, outcome)
	}
}
