// Package resilience wraps outbound service calls in a circuit breaker with
// bounded retries. Chat-completion and embedding traffic each get their own
// Guard so a failing dependency cannot starve the other.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the circuit is open and the call was
// rejected without any network I/O.
var ErrUnavailable = errors.New("service unavailable: circuit open")

// Config controls breaker and retry behavior for one Guard.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// circuit from closed to open.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before allowing
	// a half-open trial request.
	RecoveryTimeout time.Duration
	// MaxRetries is the number of additional attempts after a failed call.
	// Retries do not apply to circuit-open rejections.
	MaxRetries int
	// RetryDelay is the base delay between attempts; it doubles each retry.
	RetryDelay time.Duration
}

// DefaultConfig mirrors the settings used for chat-completion traffic.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MaxRetries:       2,
		RetryDelay:       3 * time.Second,
	}
}

// EmbeddingConfig uses a higher threshold and shorter recovery window;
// embedding calls are cheap and high-volume compared to chat completions.
func EmbeddingConfig() Config {
	return Config{
		FailureThreshold: 10,
		RecoveryTimeout:  30 * time.Second,
		MaxRetries:       2,
		RetryDelay:       time.Second,
	}
}

// Guard is a named circuit breaker with a retry loop. The zero value is not
// usable; construct with New.
type Guard struct {
	name string
	cb   *gobreaker.CircuitBreaker
	cfg  Config
	log  *zap.Logger
}

// New creates a Guard. A nil logger is replaced with a no-op logger.
func New(name string, cfg Config, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	g := &Guard{name: name, cfg: cfg, log: log}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// One half-open trial request, and the first success closes the
		// circuit.
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// Do executes op through the circuit breaker, retrying failed attempts up to
// MaxRetries times with exponentially increasing delay. A rejection by an
// open circuit returns ErrUnavailable immediately, without retrying.
func (g *Guard) Do(ctx context.Context, op func() error) error {
	var err error
	delay := g.cfg.RetryDelay

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.log.Debug("retrying call",
				zap.String("breaker", g.name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		_, err = g.cb.Execute(func() (any, error) {
			return nil, op()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrUnavailable
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// State reports the current breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}
