package ingest

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/events"
	"github.com/tallyline/tallyline/internal/ingest/domain"
)

// Consumer pulls usage events off the bus and feeds them through the
// pipeline with a fixed-size worker pool. Malformed payloads are logged and
// skipped; processing errors are logged and the delivery is abandoned, the
// bus is at-least-once so upstream redelivery is expected.
type Consumer struct {
	log     *zap.Logger
	stream  events.Stream
	service domain.Service

	channel string
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(log *zap.Logger, cfg config.Config, stream events.Stream, service domain.Service) *Consumer {
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		log:     log.Named("ingest.consumer"),
		stream:  stream,
		service: service,
		channel: cfg.Ingest.EventChannel,
		workers: workers,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	messages, err := c.stream.Subscribe(runCtx, c.channel)
	if err != nil {
		cancel()
		return err
	}

	c.log.Info("usage event consumer started",
		zap.String("channel", c.channel),
		zap.Int("workers", c.workers),
	)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(runCtx, messages)
	}
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) run(ctx context.Context, messages <-chan []byte) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			c.handle(ctx, payload)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	var event domain.UsageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.log.Warn("malformed usage event payload", zap.Error(err))
		return
	}

	outcome, err := c.service.ProcessEvent(ctx, event)
	if err != nil {
		c.log.Error("usage event processing failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	c.log.Debug("usage event handled",
		zap.String("event_id", event.EventID),
		zap.String("disposition", string(outcome.Disposition)),
		zap.String("reason", outcome.Reason),
	)
}
