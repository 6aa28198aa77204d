package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when an operation is rejected because the
// circuit breaker is open. Retry never retries this error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Operation is a unit of work executed through retries and breakers.
type Operation func(ctx context.Context) (interface{}, error)

// Settings tunes a circuit breaker.
type Settings struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// CircuitBreaker wraps gobreaker with fallback handling and metrics.
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker creates a circuit breaker with the given settings.
// A nil fallback means ErrCircuitOpen is returned directly when open.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := nextBreakerName(settings.Name)

	maxRequests := settings.SuccessThreshold
	if maxRequests == 0 {
		maxRequests = 1
	}

	failureThreshold := settings.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}

	gbSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerStateChange(name, from, to)
		},
	}

	breaker := &CircuitBreaker{
		name:     name,
		cb:       gobreaker.NewCircuitBreaker(gbSettings),
		fallback: fallback,
	}

	recordBreakerState(name, gobreaker.StateClosed)

	return breaker
}

// Name returns the breaker name used in metrics labels.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs the operation through the breaker. When the breaker is open
// the configured fallback is invoked with ErrCircuitOpen.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	recordBreakerRequest(b.name)

	result, err := b.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		recordBreakerFailure(b.name)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			recordBreakerFallback(b.name)
			if b.fallback != nil {
				return b.fallback(ctx, ErrCircuitOpen)
			}
			return nil, ErrCircuitOpen
		}

		return nil, err
	}

	return result, nil
}
