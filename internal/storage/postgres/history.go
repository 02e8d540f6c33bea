package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couponkit/couponkit/internal/domain/coupon"
)

const (
	// Row lock on the coupon serializes concurrent redemptions of the
	// same coupon for the duration of the transaction.
	lockCouponForUseSQL = `SELECT total_use, use_limit FROM coupons WHERE id = $1 FOR UPDATE`

	insertHistorySQL = `INSERT INTO coupon_history (user_id, coupon_id, order_id, object_type, discount_amount, user_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	incrementTotalUseSQL = `UPDATE coupons SET total_use = total_use + 1, updated_at = now() WHERE id = $1`

	countByUserSQL = `SELECT COUNT(*) FROM coupon_history WHERE coupon_id = $1 AND user_id = $2`

	countByIPSQL = `SELECT COUNT(*) FROM coupon_history WHERE coupon_id = $1 AND user_ip = $2`
)

var _ coupon.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository implements coupon.HistoryRepository backed by
// PostgreSQL. Record is the redemption recorder: the single transactional
// write path that keeps total_use equal to the number of committed
// history rows.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Record inserts the history row and increments the coupon's total_use in
// one transaction. The coupon row is locked first and the use limit is
// re-checked under that lock, so a prior evaluation racing with another
// redemption cannot overshoot the cap. On any failure the transaction is
// rolled back and neither write is observable.
//
// Returns coupon.ErrCouponNotFound when the coupon vanished between
// evaluation and recording, and coupon.ErrUsageLimitReached when the cap
// is already exhausted.
func (r *HistoryRepository) Record(ctx context.Context, h *coupon.History) (*coupon.History, error) {
	rec := *h

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			totalUse int32
			useLimit *int32
		)
		if err := tx.QueryRow(ctx, lockCouponForUseSQL, h.CouponID).Scan(&totalUse, &useLimit); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrCouponNotFound
			}
			return errors.Wrap(err, "lock coupon row")
		}

		if useLimit != nil && totalUse >= *useLimit {
			return coupon.ErrUsageLimitReached
		}

		err := tx.QueryRow(ctx, insertHistorySQL,
			h.UserID, h.CouponID, h.OrderID, h.ObjectType, h.DiscountAmount, h.UserIP,
		).Scan(&rec.ID, &rec.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert history")
		}

		if _, err := tx.Exec(ctx, incrementTotalUseSQL, h.CouponID); err != nil {
			return errors.Wrap(err, "increment total use")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrCouponNotFound) || errors.Is(err, coupon.ErrUsageLimitReached) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "recording redemption of coupon %d", h.CouponID)
	}

	return &rec, nil
}

// CountByUser returns how many times the user has redeemed the coupon.
func (r *HistoryRepository) CountByUser(ctx context.Context, couponID int64, userID string) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, countByUserSQL, couponID, userID).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "counting uses of coupon %d by user", couponID)
	}
	return count, nil
}

// CountByIP returns how many redemptions of the coupon came from the IP.
func (r *HistoryRepository) CountByIP(ctx context.Context, couponID int64, ip string) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, countByIPSQL, couponID, ip).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "counting uses of coupon %d by ip", couponID)
	}
	return count, nil
}
