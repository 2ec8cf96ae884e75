package domain

import "errors"

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidProduct    = errors.New("invalid_product")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrRecordNotFound    = errors.New("billing_record_not_found")
	ErrInvalidTransition = errors.New("invalid_status_transition")
)
