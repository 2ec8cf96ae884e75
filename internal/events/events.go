package events

import (
	"context"
	"time"
)

// Event is one outbound billing event (billing.calculated, billing.failed,
// quota.exceeded, ...). Payload must be JSON-serializable.
type Event struct {
	Type       string         `json:"type"`
	DedupeKey  string         `json:"dedupe_key,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher persists or transmits an outbound event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Stream is the raw message-bus collaborator: channels of opaque payloads.
// The redis implementation uses pub/sub; the memory implementation backs
// tests and single-process deployments.
type Stream interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
