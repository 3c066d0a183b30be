package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
)

// BreakerProvider wraps a Provider with a circuit breaker so a
// misbehaving backend fails fast instead of tying up workers. Auth
// failures and invalid responses do not trip the breaker; only
// transport-level trouble does.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewBreakerProvider wraps the given provider.
func NewBreakerProvider(inner Provider, logger observability.Logger) *BreakerProvider {
	if logger == nil {
		logger = observability.NewLogger("provider.breaker")
	}

	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state change", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only transient transport trouble should open the breaker.
			return !IsRetryable(err)
		},
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (p *BreakerProvider) Name() string           { return p.inner.Name() }
func (p *BreakerProvider) Dimensions() int        { return p.inner.Dimensions() }
func (p *BreakerProvider) EmbeddingModel() string { return p.inner.EmbeddingModel() }

func (p *BreakerProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Analyze(ctx, image, contentType)
	})
	if err != nil {
		return nil, p.mapBreakerErr(err)
	}
	return result.(*models.AnalysisResult), nil
}

func (p *BreakerProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, p.mapBreakerErr(err)
	}
	return result.([]float32), nil
}

// mapBreakerErr converts an open-breaker rejection into the transient
// bucket so the retry machinery treats it like any backend outage.
func (p *BreakerProvider) mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open for %s", ErrUnavailable, p.inner.Name())
	}
	return err
}
