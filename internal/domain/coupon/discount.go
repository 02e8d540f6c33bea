package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount computes the discount for an order subtotal. A fixed coupon
// discounts its full amount regardless of the subtotal; a percentage
// coupon discounts amount * subtotal / 100. No rounding is applied here,
// currency rounding is the caller's decision.
func (c *Coupon) Discount(orderAmount decimal.Decimal) (decimal.Decimal, error) {
	switch c.DiscountType {
	case DiscountFixed:
		return c.Amount, nil
	case DiscountPercentage:
		return c.Amount.Mul(orderAmount).Div(hundred), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
}
