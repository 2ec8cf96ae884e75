package events

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// RedisStream carries bus traffic over redis pub/sub. Delivery is
// at-most-once per subscriber; the pipeline's idempotency makes redelivery
// by upstream producers safe.
type RedisStream struct {
	client *redis.Client
	buffer int
}

func NewRedisStream(client *redis.Client) *RedisStream {
	if client == nil {
		return nil
	}
	return &RedisStream{client: client, buffer: 256}
}

func (s *RedisStream) Publish(ctx context.Context, channel string, payload []byte) error {
	if s == nil || s.client == nil {
		return errors.New("stream client not configured")
	}
	if channel == "" {
		return errors.New("stream channel is empty")
	}
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStream) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("stream client not configured")
	}
	if channel == "" {
		return nil, errors.New("stream channel is empty")
	}

	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, s.buffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
