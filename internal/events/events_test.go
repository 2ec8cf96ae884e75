package events

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newOutboxDB(t *testing.T) (*gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&OutboxEvent{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return db, node
}

func TestOutbox_Publish(t *testing.T) {
	db, node := newOutboxDB(t)
	outbox := NewOutbox(db, node)
	ctx := context.Background()

	err := outbox.Publish(ctx, Event{
		Type:      "billing.processed",
		DedupeKey: "billing.processed:evt_1",
		Payload:   map[string]any{"billing_id": "1"},
	})
	require.NoError(t, err)

	var rows []OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "billing.processed", rows[0].EventType)
	require.NotNil(t, rows[0].DedupeKey)
	assert.Equal(t, "billing.processed:evt_1", *rows[0].DedupeKey)
	assert.False(t, rows[0].Published)
}

func TestOutbox_DedupeKeyCollapsesRedeliveries(t *testing.T) {
	db, node := newOutboxDB(t)
	outbox := NewOutbox(db, node)
	ctx := context.Background()

	event := Event{
		Type:      "billing.processed",
		DedupeKey: "billing.processed:evt_1",
		Payload:   map[string]any{"billing_id": "1"},
	}
	require.NoError(t, outbox.Publish(ctx, event))
	require.NoError(t, outbox.Publish(ctx, event))

	var count int64
	require.NoError(t, db.Model(&OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// Events without a dedupe key always append.
	plain := Event{Type: "billing.calculated", Payload: map[string]any{}}
	require.NoError(t, outbox.Publish(ctx, plain))
	require.NoError(t, outbox.Publish(ctx, plain))
	require.NoError(t, db.Model(&OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestOutbox_RejectsMissingType(t *testing.T) {
	db, node := newOutboxDB(t)
	outbox := NewOutbox(db, node)

	err := outbox.Publish(context.Background(), Event{Payload: map[string]any{}})
	assert.Error(t, err)
}

func TestMemoryStream_PublishSubscribe(t *testing.T) {
	stream := NewMemoryStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := stream.Subscribe(ctx, "billing.usage")
	require.NoError(t, err)

	require.NoError(t, stream.Publish(ctx, "billing.usage", []byte(`{"event_id":"evt_1"}`)))
	require.NoError(t, stream.Publish(ctx, "other.channel", []byte(`ignored`)))

	select {
	case payload := <-ch:
		assert.JSONEq(t, `{"event_id":"evt_1"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("expected a delivery")
	}

	select {
	case payload := <-ch:
		t.Fatalf("unexpected delivery: %s", payload)
	default:
	}
}

func TestMemoryStream_UnsubscribeOnCancel(t *testing.T) {
	stream := NewMemoryStream()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := stream.Subscribe(ctx, "billing.usage")
	require.NoError(t, err)
	cancel()

	// The channel closes once the subscription is torn down.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected channel close")
	}

	require.NoError(t, stream.Publish(context.Background(), "billing.usage", []byte(`late`)))
}

func TestEmitter_ToleratesNilLegs(t *testing.T) {
	emitter := NewEmitter(zap.NewNop(), nil, nil)
	emitter.Emit(context.Background(), Event{Type: "billing.processed"})

	var nilEmitter *Emitter
	nilEmitter.Emit(context.Background(), Event{Type: "billing.processed"})
}
