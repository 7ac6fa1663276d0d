package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/model"
)

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	logger.Info("connecting to NATS", zap.String("url", url))

	nc, err := nats.Connect(
		url,
		nats.Name("market-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// natsConn is the subset of *nats.Conn used for publishing.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on "<prefix>.<event type>", where
// the mailer service subscribes.
type NATSPublisher struct {
	nc     natsConn
	prefix string
}

// NewNATSPublisher creates a publisher on nc. An empty prefix defaults to
// "market.events".
func NewNATSPublisher(nc natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "market.events"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t model.EventType) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
