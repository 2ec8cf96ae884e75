package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/clock"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/events"
)

const reasonSettlementTimeout = "settlement_timeout"

var ErrInvalidConfig = errors.New("invalid scheduler configuration")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Holder  *config.SettlementConfigHolder
	Repo    billingdomain.Repository
	Emitter *events.Emitter
}

// Scheduler runs the reconciliation sweep: records stuck in processing are
// the footprint of a crash between the balance call and the final status
// update. They are failed with a timeout reason so the pipeline never leaks
// half-settled records.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	holder  *config.SettlementConfigHolder
	repo    billingdomain.Repository
	emitter *events.Emitter
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Holder == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:   p.GenID,
		clock:   p.Clock,
		holder:  p.Holder,
		repo:    p.Repo,
		emitter: p.Emitter,
	}, nil
}

// RunForever runs the sweep on the configured interval until ctx is done.
// The interval is re-read every tick so config reloads apply live.
func (s *Scheduler) RunForever(ctx context.Context) {
	for {
		interval := time.Duration(s.holder.Get().Reconcile.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if _, err := s.ReconcileStale(ctx); err != nil {
			s.log.Error("reconciliation sweep failed", zap.Error(err))
		}
	}
}

// ReconcileStale fails every record stuck in processing past the stale
// threshold and returns how many were failed.
func (s *Scheduler) ReconcileStale(ctx context.Context) (int, error) {
	cfg := s.holder.Get().Reconcile
	cutoff := s.clock.Now().Add(-time.Duration(cfg.StaleAfterMinutes) * time.Minute)

	records, err := s.repo.ListStaleProcessing(ctx, s.db, cutoff, cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, record := range records {
		err := s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
			RecordID:      record.ID,
			From:          billingdomain.StatusProcessing,
			To:            billingdomain.StatusFailed,
			FailureReason: reasonSettlementTimeout,
			UpdatedAt:     s.clock.Now(),
		})
		if err != nil {
			// Lost the race to a late settlement completion; that is the
			// better outcome, move on.
			if errors.Is(err, billingdomain.ErrInvalidTransition) {
				continue
			}
			s.log.Error("failed to time out stale record",
				zap.String("billing_id", record.ID.String()),
				zap.Error(err),
			)
			continue
		}

		failed++
		s.log.Warn("billing record timed out in processing",
			zap.String("billing_id", record.ID.String()),
			zap.String("user_id", record.UserID),
			zap.Time("cutoff", cutoff),
		)

		s.auditTimeout(ctx, record)
		if s.emitter != nil {
			s.emitter.Emit(ctx, events.Event{
				Type:      string(billingdomain.EventFailed),
				DedupeKey: string(billingdomain.EventFailed) + ":timeout:" + record.UsageRecordID,
				Payload: map[string]any{
					"billing_id": record.ID.String(),
					"user_id":    record.UserID,
					"reason":     reasonSettlementTimeout,
				},
				OccurredAt: s.clock.Now(),
			})
		}
	}

	return failed, nil
}

func (s *Scheduler) auditTimeout(ctx context.Context, record billingdomain.BillingRecord) {
	entry := &billingdomain.BillingEvent{
		ID:              s.genID.Generate(),
		BillingRecordID: record.ID,
		UserID:          record.UserID,
		EventType:       billingdomain.EventFailed,
		Payload: datatypes.JSONMap{
			"reason":          reasonSettlementTimeout,
			"usage_record_id": record.UsageRecordID,
			"billing_method":  string(record.BillingMethod),
		},
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateEvent(ctx, s.db, entry); err != nil {
		s.log.Warn("audit event write failed",
			zap.String("billing_id", record.ID.String()),
			zap.Error(err),
		)
	}
}
