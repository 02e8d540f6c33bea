package coupon

import (
	"github.com/go-faster/errors"
)

// ErrCouponNotFound is returned when a coupon referenced by id or code
// does not exist.
var ErrCouponNotFound = errors.New("coupon not found")

// ErrDuplicateCode is returned when creating a coupon whose code is
// already taken.
var ErrDuplicateCode = errors.New("coupon code already exists")

// Reason identifies the business rule that disqualified a redemption
// attempt. The set is closed so callers and tests can branch precisely.
type Reason string

const (
	ReasonDisabled          Reason = "disabled"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonBelowMinimumSpend Reason = "below_minimum_spend"
	ReasonAboveMaximumSpend Reason = "above_maximum_spend"
	ReasonLimitReached      Reason = "limit_reached"
	ReasonUserLimitReached  Reason = "user_limit_reached"
	ReasonIPLimitReached    Reason = "ip_limit_reached"
	ReasonDeviceNotAllowed  Reason = "device_not_allowed"
)

// RejectionError signals that a well-formed redemption attempt was
// disqualified by a business rule.
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return "coupon rejected: " + string(e.Reason)
}

// Is matches any RejectionError carrying the same reason, so
// errors.Is(err, ErrCouponExpired) works on freshly constructed values.
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

// One sentinel per rule in the evaluator's check order.
var (
	ErrCouponDisabled       = &RejectionError{Reason: ReasonDisabled}
	ErrCouponNotStarted     = &RejectionError{Reason: ReasonNotStarted}
	ErrCouponExpired        = &RejectionError{Reason: ReasonExpired}
	ErrMinimumSpendNotMet   = &RejectionError{Reason: ReasonBelowMinimumSpend}
	ErrMaximumSpendExceeded = &RejectionError{Reason: ReasonAboveMaximumSpend}
	ErrUsageLimitReached    = &RejectionError{Reason: ReasonLimitReached}
	ErrUserLimitReached     = &RejectionError{Reason: ReasonUserLimitReached}
	ErrIPLimitReached       = &RejectionError{Reason: ReasonIPLimitReached}
	ErrDeviceNotAllowed     = &RejectionError{Reason: ReasonDeviceNotAllowed}
)

// ValidationError indicates malformed input to a public operation,
// detected before any persistence access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
