package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a redis-backed keyed lock with owner tokens.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

const (
	keyEventLock    = "billing:event:lock:%s"
	defaultEventTTL = 30 * time.Second
)

// EventLocks serializes concurrent deliveries of the same usage event id
// across instances. Without redis it degrades to a no-op: the database
// uniqueness constraint on usage_record_id still guarantees a single
// billing record per event.
type EventLocks struct {
	locker *Locker
	ttl    time.Duration
}

func NewEventLocks(client *redis.Client) *EventLocks {
	return &EventLocks{
		locker: NewLocker(client),
		ttl:    defaultEventTTL,
	}
}

func (e *EventLocks) Enabled() bool {
	return e != nil && e.locker != nil
}

func (e *EventLocks) TryLockEvent(ctx context.Context, eventID string) (string, bool, error) {
	if !e.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyEventLock, strings.TrimSpace(eventID))
	return e.locker.TryLock(ctx, key, e.ttl)
}

func (e *EventLocks) ReleaseEvent(ctx context.Context, eventID, token string) error {
	if !e.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyEventLock, strings.TrimSpace(eventID))
	return e.locker.Release(ctx, key, token)
}
