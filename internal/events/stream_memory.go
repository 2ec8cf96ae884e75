package events

import (
	"context"
	"sync"
)

// MemoryStream is an in-process Stream for tests and single-node deployments.
type MemoryStream struct {
	mu       sync.RWMutex
	channels map[string][]chan []byte
	buffer   int
}

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		channels: make(map[string][]chan []byte),
		buffer:   256,
	}
}

func (s *MemoryStream) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	subscribers := s.channels[channel]
	s.mu.RUnlock()

	for _, sub := range subscribers {
		select {
		case sub <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *MemoryStream) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, s.buffer)

	s.mu.Lock()
	s.channels[channel] = append(s.channels[channel], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.channels[channel]
		for i, sub := range subs {
			if sub == ch {
				s.channels[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
