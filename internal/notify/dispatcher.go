// Package notify delivers committed market events to external publishers
// (the NATS mailer subject and the WebSocket feed) off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
)

// Publisher sends one event to an external sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev model.Event) error
}

// DispatcherConfig sizes the dispatcher.
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

// DefaultDispatcherConfig returns the settings used when none are configured.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1024,
		Workers:        4,
		PublishTimeout: 5 * time.Second,
	}
}

// Dispatcher fans events out to publishers from a bounded queue. Notify
// never blocks: a full queue drops the event.
type Dispatcher struct {
	cfg        DispatcherConfig
	queue      chan model.Event
	publishers []Publisher
	logger     *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start before events are delivered.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, publishers ...Publisher) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		queue:      make(chan model.Event, cfg.QueueSize),
		publishers: publishers,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Notify enqueues ev for delivery.
func (d *Dispatcher) Notify(ev model.Event) {
	select {
	case <-d.done:
		metrics.NotificationsDropped.Inc()
		return
	default:
	}
	select {
	case d.queue <- ev:
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.Warn("notification queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("user_id", ev.UserID.String()),
		)
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Info("notification dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
		zap.Int("publishers", len(d.publishers)),
	)
}

// Close stops accepting events, drains the queue and waits for the workers
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev model.Event) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := p.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("notification publish failed",
				zap.String("publisher", p.Name()),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}
