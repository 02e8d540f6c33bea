// Command couponctl administers coupons: listing, creation, removal, and
// applying a coupon to an order.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponkit/couponkit/internal/domain/coupon"
	"github.com/couponkit/couponkit/internal/storage/postgres"
)

const usage = "usage: couponctl <list|add|remove|apply> [flags]"

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}

		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if cfg.Migrate {
			if err := postgres.RunMigrations(ctx, pool); err != nil {
				return errors.Wrap(err, "run migrations")
			}
		}

		tel, err := coupon.NewTelemetry(m.TracerProvider(), m.MeterProvider())
		if err != nil {
			return errors.Wrap(err, "create telemetry")
		}

		svc := coupon.NewService(
			postgres.NewCouponRepository(pool),
			postgres.NewHistoryRepository(pool),
			lg,
			tel,
		)

		args := os.Args[1:]
		if len(args) == 0 {
			return errors.New(usage)
		}

		switch args[0] {
		case "list":
			return runList(ctx, svc)
		case "add":
			return runAdd(ctx, svc, args[1:])
		case "remove":
			return runRemove(ctx, svc, args[1:])
		case "apply":
			return runApply(ctx, svc, args[1:])
		default:
			return errors.Errorf("unknown command %q\n%s", args[0], usage)
		}
	})
}

// JSON views for stdout; the domain structs carry no serialization tags.

type couponView struct {
	ID              int64   `json:"id"`
	ObjectType      string  `json:"object_type"`
	Code            string  `json:"code"`
	DiscountType    string  `json:"discount_type"`
	Amount          string  `json:"amount"`
	MinimumSpend    *string `json:"minimum_spend,omitempty"`
	MaximumSpend    *string `json:"maximum_spend,omitempty"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	UseLimit        *int32  `json:"use_limit,omitempty"`
	SameIPLimit     *int32  `json:"same_ip_limit,omitempty"`
	UseLimitPerUser *int32  `json:"use_limit_per_user,omitempty"`
	UseDevice       *string `json:"use_device,omitempty"`
	Enabled         bool    `json:"enabled"`
	TotalUse        int32   `json:"total_use"`
}

type applyView struct {
	DiscountAmount string `json:"discount_amount"`
	HistoryID      int64  `json:"history_id"`
	CouponID       int64  `json:"coupon_id"`
	OrderID        string `json:"order_id"`
}

func toCouponView(c *coupon.Coupon) couponView {
	v := couponView{
		ID:              c.ID,
		ObjectType:      c.ObjectType,
		Code:            c.Code,
		DiscountType:    string(c.DiscountType),
		Amount:          c.Amount.String(),
		StartDate:       c.StartDate.Format(time.RFC3339),
		EndDate:         c.EndDate.Format(time.RFC3339),
		UseLimit:        c.UseLimit,
		SameIPLimit:     c.SameIPLimit,
		UseLimitPerUser: c.UseLimitPerUser,
		UseDevice:       c.UseDevice,
		Enabled:         c.Enabled,
		TotalUse:        c.TotalUse,
	}
	if c.MinimumSpend != nil {
		s := c.MinimumSpend.String()
		v.MinimumSpend = &s
	}
	if c.MaximumSpend != nil {
		s := c.MaximumSpend.String()
		v.MaximumSpend = &s
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runList(ctx context.Context, svc *coupon.Service) error {
	coupons, err := svc.List(ctx)
	if err != nil {
		return err
	}

	views := make([]couponView, len(coupons))
	for i := range coupons {
		views[i] = toCouponView(&coupons[i])
	}
	return printJSON(views)
}

func runAdd(ctx context.Context, svc *coupon.Service, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	var (
		code         = fs.String("code", "", "coupon code (required)")
		discountType = fs.String("type", "", "discount type: fixed or percentage (required)")
		amount       = fs.String("amount", "", "discount value (required)")
		objectType   = fs.String("object-type", "", "object type the coupon applies to (default product)")
		minSpend     = fs.String("min-spend", "", "minimum order amount")
		maxSpend     = fs.String("max-spend", "", "maximum order amount")
		start        = fs.String("start", "", "validity start, YYYY-MM-DD or RFC3339 (required)")
		end          = fs.String("end", "", "validity end, YYYY-MM-DD or RFC3339 (required)")
		useLimit     = fs.Int("use-limit", 0, "total redemption cap (0 = unlimited)")
		ipLimit      = fs.Int("ip-limit", 0, "per-IP redemption cap (0 = unlimited)")
		userLimit    = fs.Int("user-limit", 0, "per-user redemption cap (0 = unlimited)")
		device       = fs.String("device", "", "restrict redemptions to this device name")
		enabled      = fs.Bool("enabled", false, "create the coupon enabled")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := coupon.AddParams{
		Code:         *code,
		ObjectType:   *objectType,
		DiscountType: coupon.DiscountType(*discountType),
		Enabled:      *enabled,
	}

	var err error
	if p.Amount, err = parseDecimal("amount", *amount); err != nil {
		return err
	}
	if p.MinimumSpend, err = parseOptionalDecimal("min-spend", *minSpend); err != nil {
		return err
	}
	if p.MaximumSpend, err = parseOptionalDecimal("max-spend", *maxSpend); err != nil {
		return err
	}
	if p.StartDate, err = parseDate("start", *start); err != nil {
		return err
	}
	if p.EndDate, err = parseDate("end", *end); err != nil {
		return err
	}
	p.UseLimit = optionalLimit(*useLimit)
	p.SameIPLimit = optionalLimit(*ipLimit)
	p.UseLimitPerUser = optionalLimit(*userLimit)
	if *device != "" {
		p.UseDevice = device
	}

	c, err := svc.Add(ctx, p)
	if err != nil {
		return err
	}
	return printJSON(toCouponView(c))
}

func runRemove(ctx context.Context, svc *coupon.Service, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	id := fs.Int64("id", 0, "coupon id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return svc.Remove(ctx, *id)
}

func runApply(ctx context.Context, svc *coupon.Service, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	var (
		code   = fs.String("code", "", "coupon code (required)")
		amount = fs.String("amount", "", "order subtotal (required)")
		user   = fs.String("user", "", "user id (required)")
		order  = fs.String("order", "", "order id (generated when omitted)")
		device = fs.String("device", "", "device name")
		ip     = fs.String("ip", "", "client IP address")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	orderID := *order
	if orderID == "" {
		orderID = uuid.NewString()
	}

	amt, err := parseDecimal("amount", *amount)
	if err != nil {
		return err
	}

	result, err := svc.Apply(ctx, coupon.ApplyParams{
		Code:       *code,
		Amount:     amt,
		UserID:     *user,
		OrderID:    orderID,
		DeviceName: *device,
		IPAddress:  *ip,
	})
	if err != nil {
		return err
	}

	return printJSON(applyView{
		DiscountAmount: result.DiscountAmount.String(),
		HistoryID:      result.History.ID,
		CouponID:       result.History.CouponID,
		OrderID:        result.History.OrderID,
	})
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.Errorf("-%s is required", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse -%s", name)
	}
	return d, nil
}

func parseOptionalDecimal(name, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse -%s", name)
	}
	return &d, nil
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.Errorf("-%s is required", name)
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse -%s", name)
	}
	return t, nil
}

func optionalLimit(n int) *int32 {
	if n <= 0 {
		return nil
	}
	v := int32(n)
	return &v
}
