package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/metrics"
)

// Analyzer is what the orchestrator needs from the analysis service
type Analyzer interface {
	Analyze(ctx context.Context, title, content string) (*domain.AnalysisResult, error)
	Health(ctx context.Context) error
}

// BreakerConfig tunes the circuit breaker around the client
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state count reset
	Timeout             time.Duration // open -> half-open
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig opens after 5 straight failures and probes again after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "analysis-service",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerClient short-circuits calls while the service keeps failing.
// An open circuit surfaces as a ConnectionError wrapping ErrUnavailable,
// which the orchestrator treats like any other unreachable service.
type BreakerClient struct {
	next Analyzer
	cb   *gobreaker.CircuitBreaker[*domain.AnalysisResult]
	name string
}

// NewBreakerClient wraps next with a circuit breaker
func NewBreakerClient(next Analyzer, cfg BreakerConfig) *BreakerClient {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*domain.AnalysisResult](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			if trip {
				logging.Warn().
					Str("breaker", cfg.Name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("opening circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state transition")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		// only connection failures trip the circuit; a rejection means the
		// service is up, and a timeout must reach the caller as a timeout
		IsSuccessful: func(err error) bool {
			return err == nil || IsAnalysis(err) || IsTimeout(err) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerClient{next: next, cb: cb, name: cfg.Name}
}

func (b *BreakerClient) Analyze(ctx context.Context, title, content string) (*domain.AnalysisResult, error) {
	res, err := b.cb.Execute(func() (*domain.AnalysisResult, error) {
		return b.next.Analyze(ctx, title, content)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ClientRequests.WithLabelValues("/analyze", "rejected").Inc()
			return nil, &ConnectionError{Endpoint: "/analyze", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		}
		return nil, err
	}
	return res, nil
}

// Health reports unavailable without probing while the circuit is open
func (b *BreakerClient) Health(ctx context.Context) error {
	if b.cb.State() == gobreaker.StateOpen {
		return &ConnectionError{Endpoint: "/health", Err: fmt.Errorf("%w: %w", ErrUnavailable, gobreaker.ErrOpenState)}
	}
	return b.next.Health(ctx)
}

// State is the breaker state name: closed, half-open or open
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
