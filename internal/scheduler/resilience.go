package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/cosched/internal/job"
)

// RetryConfig configures the pause between failed attempts of a job.
// A zero InitialInterval means attempts are separated by a single
// cooperative yield and nothing else.
type RetryConfig struct {
	InitialInterval     time.Duration // First pause (0 = yield only)
	MaxInterval         time.Duration // Upper bound for one pause
	MaxElapsedTime      time.Duration // Stop growing the pause after this long (0 = never)
	Multiplier          float64       // Backoff multiplier
	RandomizationFactor float64       // Jitter factor
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// policy builds a fresh backoff policy for one job run.
func (c RetryConfig) policy() backoff.BackOff {
	if c.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = c.InitialInterval
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	p.MaxElapsedTime = c.MaxElapsedTime
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	p.RandomizationFactor = c.RandomizationFactor
	p.Reset()
	return p
}

// BreakerConfig configures per-job circuit breakers.
type BreakerConfig struct {
	TripAfter   uint32        // Consecutive failures that open the breaker (default 5)
	OpenTimeout time.Duration // How long the breaker stays open (default 30s)
	MaxRequests uint32        // Probes allowed while half-open (default 3)
}

// CircuitBreakerRegistry manages circuit breakers keyed by job name.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	log      zerolog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(cfg BreakerConfig, log zerolog.Logger) *CircuitBreakerRegistry {
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given job name.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	trip := r.cfg.TripAfter
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.MaxRequests,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not the job's fault.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[name] = cb
	return cb
}

// State reports the state of the named breaker, closed if none exists yet.
func (r *CircuitBreakerRegistry) State(name string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// invoke runs one attempt of j, through its breaker when a registry is set.
// Panics in the job function come back as errors.
func invoke(ctx context.Context, j *job.Job, breakers *CircuitBreakerRegistry) (any, error) {
	call := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %q panicked: %v\n%s", j.Name(), r, debug.Stack())
			}
		}()
		return j.Call(ctx)
	}

	if breakers == nil {
		return call()
	}
	return breakers.Get(j.Name()).Execute(func() (interface{}, error) {
		return call()
	})
}

// retryable reports whether a failed attempt may be retried.
func retryable(ctx context.Context, err error) bool {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return ctx.Err() == nil
}
