package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couponkit/couponkit/internal/domain/coupon"
)

const pgErrCodeUniqueViolation = "23505"

const (
	couponColumns = `id, object_type, code, discount_type, amount,
		minimum_spend, maximum_spend, start_date, end_date,
		use_limit, same_ip_limit, use_limit_per_user, use_device,
		enabled, total_use, created_at, updated_at`

	insertCouponSQL = `INSERT INTO coupons (object_type, code, discount_type, amount,
		minimum_spend, maximum_spend, start_date, end_date,
		use_limit, same_ip_limit, use_limit_per_user, use_device, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, total_use, created_at, updated_at`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, id DESC`

	deleteCouponHistorySQL = `DELETE FROM coupon_history WHERE coupon_id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create persists a new coupon and fills in its generated fields.
// Returns coupon.ErrDuplicateCode when the code is already taken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := r.pool.QueryRow(ctx, insertCouponSQL,
		c.ObjectType, c.Code, string(c.DiscountType), c.Amount,
		c.MinimumSpend, c.MaximumSpend, c.StartDate, c.EndDate,
		c.UseLimit, c.SameIPLimit, c.UseLimitPerUser, c.UseDevice, c.Enabled,
	).Scan(&c.ID, &c.TotalUse, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrCodeUniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "creating coupon %q", c.Code)
	}
	return nil
}

// FindByID looks up a coupon by id.
// Returns coupon.ErrCouponNotFound when no such coupon exists.
func (r *CouponRepository) FindByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "finding coupon by id %d", id)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "finding coupon by id %d", id)
	}
	return &c, nil
}

// FindByCode looks up a coupon by its exact code.
// Returns coupon.ErrCouponNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "finding coupon by code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "finding coupon by code %q", code)
	}
	return &c, nil
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing coupons")
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "listing coupons")
	}
	return coupons, nil
}

// Remove deletes the coupon's history rows and then the coupon itself in
// one transaction, so a crash cannot orphan history rows.
// Returns coupon.ErrCouponNotFound when the id is unknown.
func (r *CouponRepository) Remove(ctx context.Context, id int64) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteCouponHistorySQL, id); err != nil {
			return errors.Wrap(err, "delete coupon history")
		}

		tag, err := tx.Exec(ctx, deleteCouponSQL, id)
		if err != nil {
			return errors.Wrap(err, "delete coupon")
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrCouponNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrCouponNotFound) {
			return coupon.ErrCouponNotFound
		}
		return errors.Wrapf(err, "removing coupon %d", id)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.ObjectType, &c.Code, &discountType, &c.Amount,
		&c.MinimumSpend, &c.MaximumSpend, &c.StartDate, &c.EndDate,
		&c.UseLimit, &c.SameIPLimit, &c.UseLimitPerUser, &c.UseDevice,
		&c.Enabled, &c.TotalUse, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
