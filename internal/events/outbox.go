package events

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxEvent captures outbox rows for billing events awaiting relay.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_billing_events_dedupe"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "billing_events" }

type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if o == nil || o.db == nil {
		return errors.New("outbox not configured")
	}
	if event.Type == "" {
		return errors.New("missing event type")
	}

	row := OutboxEvent{
		ID:        o.genID.Generate(),
		EventType: event.Type,
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if event.DedupeKey != "" {
		key := event.DedupeKey
		row.DedupeKey = &key
	}

	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(&row).Error
}
