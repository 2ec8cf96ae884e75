package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
)

// Decision is the admission verdict for a requested usage amount.
// Absence of a quota row admits unconditionally: no quota means unlimited.
type Decision struct {
	Admitted  bool            `json:"admitted"`
	Unlimited bool            `json:"unlimited"`
	QuotaID   snowflake.ID    `json:"quota_id,omitempty"`
	Limit     decimal.Decimal `json:"quota_limit"`
	Used      decimal.Decimal `json:"quota_used"`
	Remaining decimal.Decimal `json:"quota_remaining"`
}

type CheckRequest struct {
	Subject         billingdomain.QuotaSubject
	ServiceType     billingdomain.ServiceType
	RequestedAmount decimal.Decimal
}

// Service is the quota admission gate. Check never mutates quota_used; the
// caller records consumption after a successful settlement so a failed
// settlement does not charge quota.
type Service interface {
	Check(ctx context.Context, req CheckRequest) (Decision, error)
	RecordConsumption(ctx context.Context, quotaID snowflake.ID, amount decimal.Decimal) error
}

var (
	ErrInvalidSubject = errors.New("invalid_quota_subject")
	ErrInvalidAmount  = errors.New("invalid_requested_amount")
	ErrInvalidPeriod  = errors.New("invalid_quota_period")
	ErrQuotaNotFound  = errors.New("quota_not_found")
)
