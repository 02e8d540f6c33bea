package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const scopeName = "github.com/couponkit/couponkit/internal/domain/coupon"

// Telemetry bundles the tracer and counters the service reports through.
type Telemetry struct {
	tracer      trace.Tracer
	redemptions metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewTelemetry builds service telemetry from the given providers.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(scopeName)

	redemptions, err := meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Successful coupon redemptions"))
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	rejections, err := meter.Int64Counter("coupon.rejections",
		metric.WithDescription("Coupon redemption attempts rejected by a business rule"))
	if err != nil {
		return nil, errors.Wrap(err, "create rejections counter")
	}

	return &Telemetry{
		tracer:      tp.Tracer(scopeName),
		redemptions: redemptions,
		rejections:  rejections,
	}, nil
}

func noopTelemetry() *Telemetry {
	tel, _ := NewTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return tel
}

// Service exposes the coupon lifecycle operations to the application
// layer: listing, creation, removal, redemption, and the lower-level
// history entry point.
type Service struct {
	coupons   Repository
	histories HistoryRepository
	validator *Validator
	lg        *zap.Logger
	tel       *Telemetry
}

// NewService creates the coupon service. lg and tel may be nil, in which
// case logging and telemetry are disabled.
func NewService(coupons Repository, histories HistoryRepository, lg *zap.Logger, tel *Telemetry) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	if tel == nil {
		tel = noopTelemetry()
	}
	return &Service{
		coupons:   coupons,
		histories: histories,
		validator: NewValidator(coupons, histories),
		lg:        lg,
		tel:       tel,
	}
}

// AddParams holds the input for creating a coupon. Code, DiscountType,
// Amount, StartDate, and EndDate are required; everything else defaults.
type AddParams struct {
	Code            string
	ObjectType      string
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
}

// ApplyParams holds the input for a redemption attempt. DeviceName and
// IPAddress are optional context, consulted only when the coupon
// restricts by device or IP.
type ApplyParams struct {
	Code       string
	Amount     decimal.Decimal
	UserID     string
	OrderID    string
	DeviceName string
	IPAddress  string
}

// ApplyResult is the outcome of a successful redemption.
type ApplyResult struct {
	DiscountAmount decimal.Decimal
	History        *History
}

// HistoryParams holds the input for recording a redemption directly.
type HistoryParams struct {
	UserID         string
	CouponID       int64
	OrderID        string
	ObjectType     string
	DiscountAmount decimal.Decimal
	UserIP         string
}

// List returns all coupons, newest first. Filtering is left to the caller.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	return s.coupons.List(ctx)
}

// Add validates the input and persists a new coupon. It returns a
// *ValidationError naming the offending field, or ErrDuplicateCode when
// the code is taken.
func (s *Service) Add(ctx context.Context, p AddParams) (*Coupon, error) {
	if err := validateAddParams(&p); err != nil {
		return nil, err
	}

	c := &Coupon{
		ObjectType:      p.ObjectType,
		Code:            p.Code,
		DiscountType:    p.DiscountType,
		Amount:          p.Amount,
		MinimumSpend:    p.MinimumSpend,
		MaximumSpend:    p.MaximumSpend,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		UseLimit:        p.UseLimit,
		SameIPLimit:     p.SameIPLimit,
		UseLimitPerUser: p.UseLimitPerUser,
		UseDevice:       p.UseDevice,
		Enabled:         p.Enabled,
	}

	if err := s.coupons.Create(ctx, c); err != nil {
		return nil, err
	}

	s.lg.Info("coupon created",
		zap.Int64("coupon_id", c.ID),
		zap.String("code", c.Code),
		zap.String("discount_type", string(c.DiscountType)))

	return c, nil
}

// Remove deletes the coupon and all of its history rows. Returns
// ErrCouponNotFound when the id is unknown.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalidField("coupon_id", "must be a positive integer")
	}

	if err := s.coupons.Remove(ctx, id); err != nil {
		return err
	}

	s.lg.Info("coupon removed", zap.Int64("coupon_id", id))
	return nil
}

// Apply evaluates the coupon against the attempt and, when eligible,
// records the redemption. The returned discount is not rounded.
func (s *Service) Apply(ctx context.Context, p ApplyParams) (result *ApplyResult, err error) {
	ctx, span := s.tel.tracer.Start(ctx, "coupon.Apply",
		trace.WithAttributes(attribute.String("coupon.code", p.Code)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err := validateApplyParams(&p); err != nil {
		return nil, err
	}

	c, err := s.coupons.FindByCode(ctx, p.Code)
	if err != nil {
		return nil, err
	}

	validity, err := s.validator.Evaluate(ctx, c.ID, p.Amount, p.UserID, p.DeviceName, p.IPAddress)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			s.tel.rejections.Add(ctx, 1,
				metric.WithAttributes(attribute.String("reason", string(rej.Reason))))
			s.lg.Info("coupon rejected",
				zap.String("code", p.Code),
				zap.String("user_id", p.UserID),
				zap.String("reason", string(rej.Reason)))
		}
		return nil, err
	}

	h := &History{
		UserID:         p.UserID,
		CouponID:       c.ID,
		OrderID:        p.OrderID,
		ObjectType:     c.ObjectType,
		DiscountAmount: validity.DiscountAmount,
	}
	if p.IPAddress != "" {
		ip := p.IPAddress
		h.UserIP = &ip
	}

	rec, err := s.histories.Record(ctx, h)
	if err != nil {
		return nil, errors.Wrap(err, "record redemption")
	}

	s.tel.redemptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("discount_type", string(c.DiscountType))))
	s.lg.Info("coupon applied",
		zap.String("code", p.Code),
		zap.String("user_id", p.UserID),
		zap.String("order_id", p.OrderID),
		zap.String("discount", validity.DiscountAmount.String()))

	return &ApplyResult{
		DiscountAmount: validity.DiscountAmount,
		History:        rec,
	}, nil
}

// AddHistory records a redemption directly, bypassing evaluation. The
// coupon's total use limit is still enforced inside the recording
// transaction. ObjectType must be supplied explicitly; there is no
// silent default on this path.
func (s *Service) AddHistory(ctx context.Context, p HistoryParams) (*History, error) {
	if p.UserID == "" {
		return nil, invalidField("user_id", "required")
	}
	if p.CouponID <= 0 {
		return nil, invalidField("coupon_id", "must be a positive integer")
	}
	if p.OrderID == "" {
		return nil, invalidField("order_id", "required")
	}
	if p.ObjectType == "" {
		return nil, invalidField("object_type", "required")
	}
	if p.DiscountAmount.IsNegative() {
		return nil, invalidField("discount_amount", "must not be negative")
	}

	h := &History{
		UserID:         p.UserID,
		CouponID:       p.CouponID,
		OrderID:        p.OrderID,
		ObjectType:     p.ObjectType,
		DiscountAmount: p.DiscountAmount,
	}
	if p.UserIP != "" {
		ip := p.UserIP
		h.UserIP = &ip
	}

	rec, err := s.histories.Record(ctx, h)
	if err != nil {
		return nil, errors.Wrap(err, "record history")
	}
	return rec, nil
}

func validateAddParams(p *AddParams) error {
	p.Code = strings.TrimSpace(p.Code)
	if p.Code == "" {
		return invalidField("code", "required")
	}

	switch p.DiscountType {
	case DiscountFixed, DiscountPercentage:
	default:
		return invalidField("discount_type", "must be fixed or percentage")
	}

	if !p.Amount.IsPositive() {
		return invalidField("amount", "must be positive")
	}
	if p.DiscountType == DiscountPercentage && p.Amount.GreaterThan(hundred) {
		return invalidField("amount", "percentage must not exceed 100")
	}

	if p.StartDate.IsZero() {
		return invalidField("start_date", "required")
	}
	if p.EndDate.IsZero() {
		return invalidField("end_date", "required")
	}
	if p.EndDate.Before(p.StartDate) {
		return invalidField("end_date", "must not be before start_date")
	}

	if p.MinimumSpend != nil && p.MinimumSpend.IsNegative() {
		return invalidField("minimum_spend", "must not be negative")
	}
	if p.MaximumSpend != nil && p.MaximumSpend.IsNegative() {
		return invalidField("maximum_spend", "must not be negative")
	}
	if p.MinimumSpend != nil && p.MaximumSpend != nil && p.MaximumSpend.LessThan(*p.MinimumSpend) {
		return invalidField("maximum_spend", "must not be below minimum_spend")
	}

	for field, limit := range map[string]*int32{
		"use_limit":          p.UseLimit,
		"same_ip_limit":      p.SameIPLimit,
		"use_limit_per_user": p.UseLimitPerUser,
	} {
		if limit != nil && *limit < 1 {
			return invalidField(field, "must be at least 1")
		}
	}

	if p.ObjectType == "" {
		p.ObjectType = DefaultObjectType
	}
	return nil
}

func validateApplyParams(p *ApplyParams) error {
	p.Code = strings.TrimSpace(p.Code)
	if p.Code == "" {
		return invalidField("code", "required")
	}
	if p.Amount.IsNegative() {
		return invalidField("amount", "must not be negative")
	}
	if p.UserID == "" {
		return invalidField("user_id", "required")
	}
	if p.OrderID == "" {
		return invalidField("order_id", "required")
	}
	return nil
}
