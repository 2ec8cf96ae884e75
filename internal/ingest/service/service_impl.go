package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	billingservice "github.com/tallyline/tallyline/internal/billing/service"
	"github.com/tallyline/tallyline/internal/cache"
	"github.com/tallyline/tallyline/internal/clock"
	"github.com/tallyline/tallyline/internal/events"
	"github.com/tallyline/tallyline/internal/ingest/domain"
	obsmetrics "github.com/tallyline/tallyline/internal/observability/metrics"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
	quotadomain "github.com/tallyline/tallyline/internal/quota/domain"
	"github.com/tallyline/tallyline/internal/ratelimit"
	settlementdomain "github.com/tallyline/tallyline/internal/settlement/domain"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

const (
	reasonMissingField       = "missing_required_field"
	reasonInvalidServiceType = "invalid_service_type"
	reasonNonPositiveAmount  = "non_positive_usage_amount"
	reasonPricingUnavailable = "pricing_unavailable"
	reasonQuotaExceeded      = "quota_exceeded"
	reasonConcurrentDelivery = "concurrent_delivery"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo         billingdomain.Repository
	Pricing      pricingdomain.Service
	Subscription subscriptiondomain.Service
	Quota        quotadomain.Service
	Settlement   settlementdomain.Service
	Cache        cache.PipelineCache
	Locks        *ratelimit.EventLocks
	Emitter      *events.Emitter
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         billingdomain.Repository
	pricing      pricingdomain.Service
	subscription subscriptiondomain.Service
	quota        quotadomain.Service
	settlement   settlementdomain.Service
	cache        cache.PipelineCache
	locks        *ratelimit.EventLocks
	emitter      *events.Emitter
	metrics      *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("ingest.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		pricing:      p.Pricing,
		subscription: p.Subscription,
		quota:        p.Quota,
		settlement:   p.Settlement,
		cache:        p.Cache,
		locks:        p.Locks,
		emitter:      p.Emitter,
		metrics:      p.Metrics,
	}
}

func (s *service) ProcessEvent(ctx context.Context, event domain.UsageEvent) (*domain.Outcome, error) {
	start := s.clock.Now()
	outcome, err := s.processEvent(ctx, event)

	if outcome != nil {
		s.metrics.RecordEventIngested(ctx, string(outcome.Disposition))
		if outcome.Reason == reasonQuotaExceeded {
			s.metrics.RecordQuotaRejection(ctx, string(event.ServiceType))
		}
		if outcome.Disposition == domain.DispositionProcessed {
			s.metrics.RecordSettlement(ctx, string(outcome.BillingMethod), string(outcome.BillingStatus))
			s.metrics.ObserveSettlementDuration(ctx, string(outcome.BillingMethod), s.clock.Now().Sub(start))
		}
	}
	return outcome, err
}

func (s *service) processEvent(ctx context.Context, event domain.UsageEvent) (*domain.Outcome, error) {
	event = normalize(event)

	if outcome := s.validate(ctx, event); outcome != nil {
		return outcome, nil
	}

	if s.cache.SeenEvent(event.EventID) {
		return s.duplicate(ctx, event)
	}

	// The lock serializes concurrent deliveries of the same event across
	// workers and instances. Losing the race is not an error: the winner
	// owns the record, the loser reports a duplicate.
	token, acquired, err := s.locks.TryLockEvent(ctx, event.EventID)
	if err != nil {
		s.log.Warn("event lock unavailable, relying on database idempotency",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	} else if !acquired {
		return &domain.Outcome{
			Disposition: domain.DispositionDuplicate,
			Reason:      reasonConcurrentDelivery,
		}, nil
	} else {
		defer func() {
			if err := s.locks.ReleaseEvent(context.WithoutCancel(ctx), event.EventID, token); err != nil {
				s.log.Warn("event lock release failed",
					zap.String("event_id", event.EventID),
					zap.Error(err),
				)
			}
		}()
	}

	if s.cache.SeenEvent(event.EventID) {
		return s.duplicate(ctx, event)
	}

	pricing, err := s.pricing.Resolve(ctx, pricingdomain.ResolveRequest{
		ProductID:      event.ProductID,
		UserID:         event.UserID,
		SubscriptionID: event.SubscriptionID,
	})
	if err != nil {
		s.audit(ctx, event, 0, billingdomain.EventBillingError, map[string]any{
			"stage": "pricing",
			"error": err.Error(),
		})
		s.emit(ctx, event, string(billingdomain.EventBillingError), map[string]any{
			"stage": "pricing",
			"error": err.Error(),
		})
		return &domain.Outcome{
			Disposition: domain.DispositionRejected,
			Reason:      reasonPricingUnavailable,
		}, err
	}

	included := s.checkInclusion(ctx, event)
	cost := billingservice.CalculateCost(event.UsageAmount, *pricing, included)

	decision, err := s.quota.Check(ctx, quotadomain.CheckRequest{
		Subject: billingdomain.QuotaSubject{
			UserID:         event.UserID,
			OrganizationID: event.OrganizationID,
			SubscriptionID: event.SubscriptionID,
		},
		ServiceType:     event.ServiceType,
		RequestedAmount: event.UsageAmount,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Admitted {
		s.audit(ctx, event, 0, billingdomain.EventQuotaExceeded, map[string]any{
			"service_type":    event.ServiceType,
			"requested":       event.UsageAmount,
			"quota_limit":     decision.Limit,
			"quota_used":      decision.Used,
			"quota_remaining": decision.Remaining,
		})
		s.emit(ctx, event, string(billingdomain.EventQuotaExceeded), map[string]any{
			"service_type": event.ServiceType,
			"requested":    event.UsageAmount.String(),
		})
		return &domain.Outcome{
			Disposition: domain.DispositionRejected,
			Reason:      reasonQuotaExceeded,
		}, nil
	}

	record := s.buildRecord(event, pricing, cost)
	inserted, err := s.repo.CreateRecord(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.duplicate(ctx, event)
	}

	s.audit(ctx, event, record.ID, billingdomain.EventRecordCreated, map[string]any{
		"usage_record_id": event.EventID,
		"total_amount":    record.TotalAmount,
		"classification":  cost.Classification,
	})
	s.audit(ctx, event, record.ID, billingdomain.EventCalculated, map[string]any{
		"unit_price":   record.UnitPrice,
		"usage_amount": record.UsageAmount,
		"total_amount": record.TotalAmount,
		"currency":     record.Currency,
	})
	s.emit(ctx, event, string(billingdomain.EventRecordCreated), map[string]any{
		"billing_id":      record.ID.String(),
		"usage_record_id": event.EventID,
		"total_amount":    record.TotalAmount.String(),
		"currency":        string(record.Currency),
	})

	outcome, err := s.settlement.Settle(ctx, settlementdomain.Request{
		Record:             record,
		SubscriptionCovers: cost.IsIncluded() || cost.IsFreeTier(),
	})
	if err != nil {
		// Record stays pending; the event is deliberately not marked
		// processed so a redelivery re-drives settlement (see duplicate).
		s.audit(ctx, event, record.ID, billingdomain.EventBillingError, map[string]any{
			"stage": "settlement",
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitCalculated(ctx, event, record, cost.Classification, outcome.Method)
	s.finish(ctx, event, record, decision, outcome)
	s.cache.MarkEventProcessed(event.EventID)

	return &domain.Outcome{
		Disposition:   domain.DispositionProcessed,
		Record:        record,
		BillingStatus: outcome.Status,
		BillingMethod: outcome.Method,
		Reason:        outcome.FailureReason,
	}, nil
}

func (s *service) finish(
	ctx context.Context,
	event domain.UsageEvent,
	record *billingdomain.BillingRecord,
	decision quotadomain.Decision,
	outcome *settlementdomain.Outcome,
) {
	switch outcome.Status {
	case billingdomain.StatusCompleted:
		s.audit(ctx, event, record.ID, billingdomain.EventProcessed, map[string]any{
			"billing_method": outcome.Method,
			"transaction_id": outcome.TransactionID,
		})
		s.emit(ctx, event, string(billingdomain.EventProcessed), map[string]any{
			"billing_id":     record.ID.String(),
			"billing_method": string(outcome.Method),
		})
		// Quota is charged only after money (or allowance) actually moved.
		if decision.QuotaID != 0 {
			if err := s.quota.RecordConsumption(ctx, decision.QuotaID, event.UsageAmount); err != nil {
				s.log.Error("quota consumption update failed",
					zap.String("event_id", event.EventID),
					zap.Int64("quota_id", int64(decision.QuotaID)),
					zap.Error(err),
				)
			}
		}
	case billingdomain.StatusFailed:
		s.audit(ctx, event, record.ID, billingdomain.EventFailed, map[string]any{
			"billing_method": outcome.Method,
			"reason":         outcome.FailureReason,
		})
		s.emit(ctx, event, string(billingdomain.EventFailed), map[string]any{
			"billing_id": record.ID.String(),
			"reason":     outcome.FailureReason,
		})
	}
}

func (s *service) buildRecord(
	event domain.UsageEvent,
	pricing *pricingdomain.ProductPricing,
	cost billingservice.CostResult,
) *billingdomain.BillingRecord {
	now := s.clock.Now()

	// Provisional method; settlement stamps the final one.
	method := billingdomain.MethodWalletDeduction
	if cost.TotalCost.IsZero() {
		method = billingdomain.MethodSubscriptionIncluded
	}

	metadata := datatypes.JSONMap{}
	if event.UnitType != "" {
		metadata["unit_type"] = event.UnitType
	}
	for key, value := range event.UsageDetails {
		metadata[key] = value
	}
	metadata["classification"] = string(cost.Classification)
	if !event.Timestamp.IsZero() {
		metadata["usage_timestamp"] = event.Timestamp.UTC()
	}

	return &billingdomain.BillingRecord{
		ID:             s.genID.Generate(),
		UserID:         event.UserID,
		OrganizationID: event.OrganizationID,
		SubscriptionID: event.SubscriptionID,
		UsageRecordID:  event.EventID,
		ProductID:      event.ProductID,
		ServiceType:    event.ServiceType,
		UsageAmount:    event.UsageAmount,
		UnitPrice:      cost.UnitPrice,
		TotalAmount:    cost.TotalCost,
		Currency:       cost.Currency,
		BillingMethod:  method,
		BillingStatus:  billingdomain.StatusPending,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *service) checkInclusion(ctx context.Context, event domain.UsageEvent) bool {
	result, err := s.subscription.CheckInclusion(ctx, subscriptiondomain.CheckRequest{
		SubscriptionID: event.SubscriptionID,
		ProductID:      event.ProductID,
		UsageAmount:    event.UsageAmount,
	})
	if err != nil {
		// Inclusion is an optimization for the user; when terms cannot be
		// fetched the usage is billed normally rather than dropped.
		s.log.Warn("inclusion check failed, treating usage as billable",
			zap.String("event_id", event.EventID),
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err),
		)
		return false
	}
	return result.Included
}

func (s *service) duplicate(ctx context.Context, event domain.UsageEvent) (*domain.Outcome, error) {
	record, err := s.repo.FindRecordByUsageRecordID(ctx, s.db, event.EventID)
	if err != nil {
		return nil, err
	}
	if record != nil &&
		record.BillingStatus == billingdomain.StatusPending &&
		record.BillingMethod != billingdomain.MethodPaymentCharge {
		// An earlier delivery inserted the record but died before settlement
		// (balance provider outage, crash). Pending is only a resting state
		// for deferred payment charges; anything else gets re-driven.
		return s.resumeSettlement(ctx, event, record)
	}
	s.cache.MarkEventProcessed(event.EventID)

	outcome := &domain.Outcome{Disposition: domain.DispositionDuplicate}
	if record != nil {
		outcome.Record = record
		outcome.BillingStatus = record.BillingStatus
		outcome.BillingMethod = record.BillingMethod
	}
	s.log.Debug("duplicate usage event ignored", zap.String("event_id", event.EventID))
	return outcome, nil
}

func (s *service) resumeSettlement(ctx context.Context, event domain.UsageEvent, record *billingdomain.BillingRecord) (*domain.Outcome, error) {
	s.log.Info("redelivery found unsettled record, retrying settlement",
		zap.String("event_id", event.EventID),
		zap.String("record_id", record.ID.String()),
	)
	outcome, err := s.settlement.Settle(ctx, settlementdomain.Request{Record: record})
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvalidTransition) || errors.Is(err, settlementdomain.ErrRecordNotPending) {
			// Another delivery is driving the record right now; let it win.
			return &domain.Outcome{
				Disposition:   domain.DispositionDuplicate,
				Reason:        reasonConcurrentDelivery,
				Record:        record,
				BillingStatus: record.BillingStatus,
				BillingMethod: record.BillingMethod,
			}, nil
		}
		// Still unsettleable; the event stays unmarked for the next delivery.
		return nil, err
	}

	// The admission decision from the first delivery is gone. Re-resolve the
	// quota row with a zero-amount check so a completed settlement still
	// charges the quota that admitted the usage.
	decision, err := s.quota.Check(ctx, quotadomain.CheckRequest{
		Subject: billingdomain.QuotaSubject{
			UserID:         record.UserID,
			OrganizationID: record.OrganizationID,
			SubscriptionID: record.SubscriptionID,
		},
		ServiceType:     record.ServiceType,
		RequestedAmount: decimal.Zero,
	})
	if err != nil {
		s.log.Warn("quota lookup failed during settlement retry",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		decision = quotadomain.Decision{}
	}

	s.emitCalculated(ctx, event, record, classificationOf(record), outcome.Method)
	s.finish(ctx, event, record, decision, outcome)
	s.cache.MarkEventProcessed(event.EventID)

	return &domain.Outcome{
		Disposition:   domain.DispositionProcessed,
		Record:        record,
		BillingStatus: outcome.Status,
		BillingMethod: outcome.Method,
		Reason:        outcome.FailureReason,
	}, nil
}

// validate drops malformed events without a billing record, an audit row, or
// an error event; only the log knows. A chatty or buggy upstream cannot flood
// the event tables this way.
func (s *service) validate(ctx context.Context, event domain.UsageEvent) *domain.Outcome {
	if event.EventID == "" || event.UserID == "" || event.ProductID == "" {
		s.log.Warn("usage event missing required fields",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.String("product_id", event.ProductID),
		)
		return &domain.Outcome{
			Disposition: domain.DispositionRejected,
			Reason:      reasonMissingField,
		}
	}

	switch event.ServiceType {
	case billingdomain.ServiceTypeModelInference,
		billingdomain.ServiceTypeAPICall,
		billingdomain.ServiceTypeStorage:
	default:
		s.log.Warn("usage event carries unknown service type",
			zap.String("event_id", event.EventID),
			zap.String("service_type", string(event.ServiceType)),
		)
		return &domain.Outcome{
			Disposition: domain.DispositionRejected,
			Reason:      reasonInvalidServiceType,
		}
	}

	if !event.UsageAmount.IsPositive() {
		s.log.Debug("dropping non-positive usage amount",
			zap.String("event_id", event.EventID),
			zap.String("usage_amount", event.UsageAmount.String()),
		)
		return &domain.Outcome{
			Disposition: domain.DispositionDropped,
			Reason:      reasonNonPositiveAmount,
		}
	}

	return nil
}

func (s *service) audit(
	ctx context.Context,
	event domain.UsageEvent,
	recordID snowflake.ID,
	eventType billingdomain.BillingEventType,
	payload map[string]any,
) {
	if payload == nil {
		payload = map[string]any{}
	}
	entry := &billingdomain.BillingEvent{
		ID:              s.genID.Generate(),
		BillingRecordID: recordID,
		UserID:          event.UserID,
		EventType:       eventType,
		Payload:         datatypes.JSONMap(payload),
		CreatedAt:       s.clock.Now(),
	}
	entry.Payload["event_id"] = event.EventID
	if err := s.repo.CreateEvent(ctx, s.db, entry); err != nil {
		s.log.Warn("audit event write failed",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func (s *service) emitCalculated(
	ctx context.Context,
	event domain.UsageEvent,
	record *billingdomain.BillingRecord,
	classification billingservice.CostClassification,
	method billingdomain.BillingMethod,
) {
	s.emit(ctx, event, string(billingdomain.EventCalculated), map[string]any{
		"billing_id":     record.ID.String(),
		"usage_event_id": event.EventID,
		"product_id":     record.ProductID,
		"actual_usage":   record.UsageAmount.String(),
		"unit_price":     record.UnitPrice.String(),
		"total_amount":   record.TotalAmount.String(),
		"currency":       string(record.Currency),
		"classification": string(classification),
		"billing_method": string(method),
	})
}

func classificationOf(record *billingdomain.BillingRecord) billingservice.CostClassification {
	if v, ok := record.Metadata["classification"].(string); ok && v != "" {
		return billingservice.CostClassification(v)
	}
	return billingservice.ClassificationBillable
}

func (s *service) emit(ctx context.Context, event domain.UsageEvent, eventType string, payload map[string]any) {
	payload["event_id"] = event.EventID
	payload["user_id"] = event.UserID
	s.emitter.Emit(ctx, events.Event{
		Type:       eventType,
		DedupeKey:  eventType + ":" + event.EventID,
		Payload:    payload,
		OccurredAt: s.clock.Now(),
	})
}

func normalize(event domain.UsageEvent) domain.UsageEvent {
	event.EventID = strings.TrimSpace(event.EventID)
	event.UserID = strings.TrimSpace(event.UserID)
	event.OrganizationID = strings.TrimSpace(event.OrganizationID)
	event.SubscriptionID = strings.TrimSpace(event.SubscriptionID)
	event.ProductID = strings.TrimSpace(event.ProductID)
	event.ServiceType = billingdomain.ServiceType(strings.ToLower(strings.TrimSpace(string(event.ServiceType))))
	event.UnitType = strings.TrimSpace(event.UnitType)
	return event
}
