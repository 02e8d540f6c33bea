package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountFixed subtracts a fixed monetary amount from the order.
	DiscountFixed DiscountType = "fixed"
	// DiscountPercentage subtracts a percentage of the order subtotal.
	DiscountPercentage DiscountType = "percentage"
)

// DefaultObjectType is assigned to coupons created without an explicit
// object type.
const DefaultObjectType = "product"

// Coupon represents a discount offer identified by a unique code, together
// with the eligibility rules that gate its redemption.
type Coupon struct {
	ID              int64
	ObjectType      string
	Code            string
	DiscountType    DiscountType
	Amount          decimal.Decimal
	MinimumSpend    *decimal.Decimal
	MaximumSpend    *decimal.Decimal
	StartDate       time.Time
	EndDate         time.Time
	UseLimit        *int32
	SameIPLimit     *int32
	UseLimitPerUser *int32
	UseDevice       *string
	Enabled         bool
	TotalUse        int32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// History is the persisted fact of one successful redemption. It is
// immutable once written; DiscountAmount is stored because the coupon's
// amount may change later.
type History struct {
	ID             int64
	UserID         string
	CouponID       int64
	OrderID        string
	ObjectType     string
	DiscountAmount decimal.Decimal
	UserIP         *string
	CreatedAt      time.Time
}

// Repository provides persistence for coupons.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	// Remove deletes the coupon and all of its history rows in a single
	// transaction.
	Remove(ctx context.Context, id int64) error
}

// HistoryRepository persists redemption records. Record is the only
// mutation path for a coupon's TotalUse counter.
type HistoryRepository interface {
	// Record inserts the history row and increments the coupon's usage
	// counter atomically. The coupon's use limit is re-checked inside the
	// same transaction, so two concurrent redemptions cannot both consume
	// the last remaining use.
	Record(ctx context.Context, h *History) (*History, error)
	CountByUser(ctx context.Context, couponID int64, userID string) (int64, error)
	CountByIP(ctx context.Context, couponID int64, ip string) (int64, error)
}
