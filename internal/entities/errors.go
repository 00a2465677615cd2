package entities

import "errors"

// Validation errors. Returned before any state is touched.
var (
	ErrMissingField        = errors.New("missing required field")
	ErrInvalidAmount       = errors.New("invalid fiat amount")
	ErrInvalidExchangeRate = errors.New("invalid exchange rate")
	ErrUnknownPaymentRail  = errors.New("unknown payment rail")
	ErrAmountTooSmall      = errors.New("zec amount below dust floor")
	ErrEmptyBatch          = errors.New("batch has no items")
)

// Lookup errors.
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrGroupNotFound       = errors.New("merchant group not found")
	ErrFacilitatorNotFound = errors.New("facilitator not found")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
)

// Conflict errors. Someone else already moved the order or the caller does not own it.
var (
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	ErrForbidden           = errors.New("caller does not own this order")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOrderGrouped        = errors.New("order is reserved by an active merchant group")
	ErrGroupExpired        = errors.New("merchant group acceptance window has expired")
	ErrGroupNotPending     = errors.New("merchant group is no longer pending")
	ErrConcurrentUpdate    = errors.New("order was modified concurrently")
)

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidExchangeRate) ||
		errors.Is(err, ErrUnknownPaymentRail) ||
		errors.Is(err, ErrAmountTooSmall) ||
		errors.Is(err, ErrEmptyBatch)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrFacilitatorNotFound)
}

// IsConflict reports whether err means the order or group is in the wrong state for the request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderNotPending) ||
		errors.Is(err, ErrOrderNotCancellable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOrderGrouped) ||
		errors.Is(err, ErrGroupExpired) ||
		errors.Is(err, ErrGroupNotPending) ||
		errors.Is(err, ErrConcurrentUpdate)
}
