package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validity is the result of a successful evaluation: the coupon as seen
// at evaluation time plus the discount it would grant.
type Validity struct {
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
}

// UsageReader exposes the redemption counts the evaluator needs for
// per-user and per-IP limits.
type UsageReader interface {
	CountByUser(ctx context.Context, couponID int64, userID string) (int64, error)
	CountByIP(ctx context.Context, couponID int64, ip string) (int64, error)
}

// Validator runs the ordered eligibility checks for a redemption attempt.
// It is read-only; recording the redemption is the repository's job.
type Validator struct {
	coupons Repository
	usages  UsageReader
	now     func() time.Time
}

// NewValidator creates a Validator backed by the given repositories.
func NewValidator(coupons Repository, usages UsageReader) *Validator {
	return &Validator{coupons: coupons, usages: usages, now: time.Now}
}

// Evaluate checks whether the coupon may be applied to an order of the
// given amount. Checks run in a fixed order and the first failure is
// authoritative: enabled, date window, spend bounds, total usage cap,
// per-user cap, per-IP cap, device restriction. deviceName and ipAddress
// are optional; empty means not supplied.
//
// It returns ErrCouponNotFound for an unknown id, a *RejectionError for
// a failed business rule, and a *ValidationError for malformed input.
func (v *Validator) Evaluate(ctx context.Context, couponID int64, amount decimal.Decimal, userID, deviceName, ipAddress string) (*Validity, error) {
	if couponID <= 0 {
		return nil, invalidField("coupon_id", "must be a positive integer")
	}
	if amount.IsNegative() {
		return nil, invalidField("amount", "must not be negative")
	}
	if userID == "" {
		return nil, invalidField("user_id", "required")
	}

	c, err := v.coupons.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if !c.Enabled {
		return nil, ErrCouponDisabled
	}

	now := v.now()
	if now.Before(c.StartDate) {
		return nil, ErrCouponNotStarted
	}
	if now.After(c.EndDate) {
		return nil, ErrCouponExpired
	}

	if c.MinimumSpend != nil && amount.LessThan(*c.MinimumSpend) {
		return nil, ErrMinimumSpendNotMet
	}
	if c.MaximumSpend != nil && amount.GreaterThan(*c.MaximumSpend) {
		return nil, ErrMaximumSpendExceeded
	}

	if c.UseLimit != nil && c.TotalUse >= *c.UseLimit {
		return nil, ErrUsageLimitReached
	}

	if c.UseLimitPerUser != nil {
		used, err := v.usages.CountByUser(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count uses by user")
		}
		if used >= int64(*c.UseLimitPerUser) {
			return nil, ErrUserLimitReached
		}
	}

	if c.SameIPLimit != nil && ipAddress != "" {
		used, err := v.usages.CountByIP(ctx, c.ID, ipAddress)
		if err != nil {
			return nil, errors.Wrap(err, "count uses by ip")
		}
		if used >= int64(*c.SameIPLimit) {
			return nil, ErrIPLimitReached
		}
	}

	if c.UseDevice != nil && !strings.EqualFold(deviceName, *c.UseDevice) {
		return nil, ErrDeviceNotAllowed
	}

	discount, err := c.Discount(amount)
	if err != nil {
		return nil, err
	}

	return &Validity{Coupon: c, DiscountAmount: discount}, nil
}
