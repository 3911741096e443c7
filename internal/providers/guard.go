package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hazard-alert-service/internal/dispatch"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

// GuardConfig tunes the rate limiter and circuit breaker around a provider.
type GuardConfig struct {
	Name        string
	RatePerSec  float64
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Guarded throttles a transport and stops calling it while the provider is
// failing. A tripped breaker is reported as a retryable failure so the
// dispatcher falls through to the contact's next channel.
type Guarded struct {
	next    dispatch.Transport
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func Guard(next dispatch.Transport, cfg GuardConfig, logger *logging.Logger) *Guarded {
	g := &Guarded{next: next}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("Provider %s circuit %s -> %s", name, from, to)
		},
		// A rejected recipient says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || dispatch.IsPermanent(err) || errors.Is(err, context.Canceled)
		},
	})
	return g
}

func (g *Guarded) Send(ctx context.Context, c models.Contact, channel models.ChannelKind, msg models.Message) (dispatch.Receipt, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return dispatch.Receipt{}, fmt.Errorf("%s rate limit wait: %w", channel, err)
		}
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Send(ctx, c, channel, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return dispatch.Receipt{}, &dispatch.ProviderError{Code: "circuit_open", Err: err}
	}
	receipt, _ := out.(dispatch.Receipt)
	return receipt, err
}

// State reports the breaker state, for health output.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}
