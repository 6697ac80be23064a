// Package retrycircuit wraps every external call with a configurable
// retry policy and a per-dependency circuit breaker, combining
// cenkalti/backoff's retry strategies with sony/gobreaker's Closed/Open/
// HalfOpen state machine — the Go counterpart of retry_service.py's
// CircuitBreaker + RetryService pairing.
package retrycircuit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/ledgersync/replicator/internal/syncerr"
)

// Strategy selects how the delay between retry attempts grows.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
)

// Config holds both the retry policy and the breaker thresholds for one
// dependency.
type Config struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	Strategy         Strategy
	Multiplier       float64       // exponential strategy only
	Increment        time.Duration // linear strategy only
	MaxDelay         time.Duration
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultConfig mirrors retry_service.py's defaults: 3 attempts,
// exponential backoff starting at 1s, breaker trips after 3 consecutive
// failures and probes again after 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     time.Second,
		Strategy:         StrategyExponential,
		Multiplier:       2,
		Increment:        time.Second,
		MaxDelay:         30 * time.Second,
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Circuit is one dependency's retry+breaker pair.
type Circuit struct {
	name    string
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     logr.Logger
}

// New builds a Circuit for the named dependency.
func New(name string, cfg Config, log logr.Logger) *Circuit {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			log.Info("circuit state change", "dependency", breakerName, "from", from.String(), "to", to.String())
		},
	}
	return &Circuit{name: name, cfg: cfg, breaker: gobreaker.NewCircuitBreaker(settings), log: log}
}

// State reports the breaker's current state.
func (c *Circuit) State() gobreaker.State {
	return c.breaker.State()
}

// Execute runs fn, retrying per cfg's strategy and short-circuiting
// immediately (without calling fn) while the breaker is Open. Only
// syncerr-tagged Network/Timeout errors are retried; anything else,
// including an open breaker, stops the retry loop immediately.
func (c *Circuit) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	retries := c.cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(retries)), ctx)

	return backoff.Retry(func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(syncerr.Wrap(syncerr.KindCircuitOpen, c.name, err, "circuit open, rejecting without attempt"))
		}
		if !syncerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func (c *Circuit) newBackOff() backoff.BackOff {
	switch c.cfg.Strategy {
	case StrategyLinear:
		return &linearBackOff{current: c.cfg.InitialDelay, increment: c.cfg.Increment, max: c.cfg.MaxDelay}
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.cfg.InitialDelay
		eb.Multiplier = c.cfg.Multiplier
		eb.MaxInterval = c.cfg.MaxDelay
		eb.MaxElapsedTime = 0 // bounded instead by WithMaxRetries
		return eb
	}
}

// linearBackOff grows by a fixed increment each attempt, bounded by max —
// cenkalti/backoff ships only exponential, so the linear strategy the
// spec requires is a small custom implementation of its BackOff interface.
type linearBackOff struct {
	current   time.Duration
	increment time.Duration
	max       time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	d := l.current
	l.current += l.increment
	if l.max > 0 && l.current > l.max {
		l.current = l.max
	}
	return d
}

func (l *linearBackOff) Reset() {}
