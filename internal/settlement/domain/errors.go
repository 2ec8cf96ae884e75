package domain

import "errors"

var (
	ErrNilRecord          = errors.New("nil billing record")
	ErrRecordNotPending   = errors.New("billing record is not pending")
	ErrBalanceUnavailable = errors.New("balance provider unavailable")
	ErrExecutionFailed    = errors.New("settlement execution failed")
)
