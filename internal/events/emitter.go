package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const outboundChannel = "billing.events"

// Emitter publishes outbound events best-effort: a publish failure is logged
// and never surfaces to the caller, so it can never be mistaken for a
// settlement failure or roll back a billing decision that already succeeded.
type Emitter struct {
	log    *zap.Logger
	outbox *Outbox
	stream Stream
}

func NewEmitter(log *zap.Logger, outbox *Outbox, stream Stream) *Emitter {
	return &Emitter{
		log:    log.Named("events.emitter"),
		outbox: outbox,
		stream: stream,
	}
}

// Emit records the event in the outbox and pushes it onto the bus.
// Both legs are independent; either may fail without affecting the other.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if e.outbox != nil {
		if err := e.outbox.Publish(ctx, event); err != nil {
			e.log.Warn("outbox publish failed",
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
		}
	}

	if e.stream != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			e.log.Warn("event marshal failed",
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
			return
		}
		if err := e.stream.Publish(ctx, outboundChannel, payload); err != nil {
			e.log.Warn("bus publish failed",
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
		}
	}
}
