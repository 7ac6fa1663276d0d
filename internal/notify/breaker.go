package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
)

// BreakerConfig controls when a publisher's circuit opens.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the breaker settings used for every publisher.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// breakerPublisher guards a Publisher with a circuit breaker so a dead sink
// is skipped instead of stalling the workers.
type breakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p in a circuit breaker.
func WithBreaker(p Publisher, cfg BreakerConfig, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "publisher-" + p.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &breakerPublisher{next: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerPublisher) Name() string { return b.next.Name() }

func (b *breakerPublisher) Publish(ctx context.Context, ev model.Event) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, ev)
	})
	switch {
	case err == nil:
		metrics.NotificationsPublished.WithLabelValues(b.Name(), "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotificationsPublished.WithLabelValues(b.Name(), "rejected").Inc()
	default:
		metrics.NotificationsPublished.WithLabelValues(b.Name(), "error").Inc()
	}
	return err
}
