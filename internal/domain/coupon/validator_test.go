package coupon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCouponRepo struct {
	byID      map[int64]*Coupon
	byCode    map[string]*Coupon
	createErr error
	removeErr error
	removed   []int64
	nextID    int64
}

func (m *mockCouponRepo) Create(_ context.Context, c *Coupon) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	c.ID = m.nextID
	if m.byID == nil {
		m.byID = make(map[int64]*Coupon)
	}
	if m.byCode == nil {
		m.byCode = make(map[string]*Coupon)
	}
	m.byID[c.ID] = c
	m.byCode[c.Code] = c
	return nil
}

func (m *mockCouponRepo) FindByID(_ context.Context, id int64) (*Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) List(_ context.Context) ([]Coupon, error) {
	out := make([]Coupon, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCouponRepo) Remove(_ context.Context, id int64) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	c, ok := m.byID[id]
	if !ok {
		return ErrCouponNotFound
	}
	delete(m.byID, id)
	delete(m.byCode, c.Code)
	m.removed = append(m.removed, id)
	return nil
}

type mockHistoryRepo struct {
	userCounts map[string]int64
	ipCounts   map[string]int64
	recorded   []*History
	recordErr  error
	countErr   error
}

func (m *mockHistoryRepo) Record(_ context.Context, h *History) (*History, error) {
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	rec := *h
	rec.ID = int64(len(m.recorded) + 1)
	rec.CreatedAt = time.Now()
	m.recorded = append(m.recorded, &rec)
	return &rec, nil
}

func (m *mockHistoryRepo) CountByUser(_ context.Context, couponID int64, userID string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.userCounts[fmt.Sprintf("%d/%s", couponID, userID)], nil
}

func (m *mockHistoryRepo) CountByIP(_ context.Context, couponID int64, ip string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.ipCounts[fmt.Sprintf("%d/%s", couponID, ip)], nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func limit(n int32) *int32 { return &n }

func strPtr(s string) *string { return &s }

func newCouponRepo(coupons ...*Coupon) *mockCouponRepo {
	byID := make(map[int64]*Coupon, len(coupons))
	byCode := make(map[string]*Coupon, len(coupons))
	var nextID int64
	for _, c := range coupons {
		byID[c.ID] = c
		byCode[c.Code] = c
		if c.ID > nextID {
			nextID = c.ID
		}
	}
	return &mockCouponRepo{byID: byID, byCode: byCode, nextID: nextID}
}

// --- Tests ---

func TestEvaluate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	weekAgo := fixedNow.Add(-7 * 24 * time.Hour)
	weekAhead := fixedNow.Add(7 * 24 * time.Hour)

	base := Coupon{
		ID:           1,
		ObjectType:   DefaultObjectType,
		Code:         "BASE",
		DiscountType: DiscountPercentage,
		Amount:       dec("10"),
		StartDate:    weekAgo,
		EndDate:      weekAhead,
		Enabled:      true,
	}

	tests := []struct {
		name       string
		mutate     func(c *Coupon)
		userCounts map[string]int64
		ipCounts   map[string]int64
		amount     decimal.Decimal
		device     string
		ip         string
		wantErr    error
		wantAmount string
	}{
		{
			name:       "enabled coupon in window succeeds",
			amount:     dec("200"),
			wantAmount: "20",
		},
		{
			name:    "disabled coupon",
			mutate:  func(c *Coupon) { c.Enabled = false },
			amount:  dec("200"),
			wantErr: ErrCouponDisabled,
		},
		{
			name: "disabled wins over expired",
			mutate: func(c *Coupon) {
				c.Enabled = false
				c.EndDate = weekAgo
			},
			amount:  dec("200"),
			wantErr: ErrCouponDisabled,
		},
		{
			name:    "not yet started",
			mutate:  func(c *Coupon) { c.StartDate = weekAhead; c.EndDate = weekAhead.Add(24 * time.Hour) },
			amount:  dec("200"),
			wantErr: ErrCouponNotStarted,
		},
		{
			name:    "expired",
			mutate:  func(c *Coupon) { c.StartDate = weekAgo.Add(-24 * time.Hour); c.EndDate = weekAgo },
			amount:  dec("200"),
			wantErr: ErrCouponExpired,
		},
		{
			name:       "window bounds are inclusive",
			mutate:     func(c *Coupon) { c.StartDate = fixedNow; c.EndDate = fixedNow },
			amount:     dec("200"),
			wantAmount: "20",
		},
		{
			name:    "below minimum spend",
			mutate:  func(c *Coupon) { c.MinimumSpend = decPtr("50") },
			amount:  dec("40"),
			wantErr: ErrMinimumSpendNotMet,
		},
		{
			name:       "exactly minimum spend succeeds",
			mutate:     func(c *Coupon) { c.MinimumSpend = decPtr("50") },
			amount:     dec("50"),
			wantAmount: "5",
		},
		{
			name:    "above maximum spend",
			mutate:  func(c *Coupon) { c.MaximumSpend = decPtr("500") },
			amount:  dec("501"),
			wantErr: ErrMaximumSpendExceeded,
		},
		{
			name:    "total use limit reached",
			mutate:  func(c *Coupon) { c.UseLimit = limit(3); c.TotalUse = 3 },
			amount:  dec("200"),
			wantErr: ErrUsageLimitReached,
		},
		{
			name:       "total use under limit succeeds",
			mutate:     func(c *Coupon) { c.UseLimit = limit(3); c.TotalUse = 2 },
			amount:     dec("200"),
			wantAmount: "20",
		},
		{
			name:       "per-user limit reached",
			mutate:     func(c *Coupon) { c.UseLimitPerUser = limit(2) },
			userCounts: map[string]int64{"1/u1": 2},
			amount:     dec("200"),
			wantErr:    ErrUserLimitReached,
		},
		{
			name:       "per-user limit with room succeeds",
			mutate:     func(c *Coupon) { c.UseLimitPerUser = limit(2) },
			userCounts: map[string]int64{"1/u1": 1},
			amount:     dec("200"),
			wantAmount: "20",
		},
		{
			name:     "per-ip limit reached",
			mutate:   func(c *Coupon) { c.SameIPLimit = limit(1) },
			ipCounts: map[string]int64{"1/10.0.0.1": 1},
			amount:   dec("200"),
			ip:       "10.0.0.1",
			wantErr:  ErrIPLimitReached,
		},
		{
			name:       "per-ip limit skipped when ip not supplied",
			mutate:     func(c *Coupon) { c.SameIPLimit = limit(1) },
			ipCounts:   map[string]int64{"1/10.0.0.1": 5},
			amount:     dec("200"),
			wantAmount: "20",
		},
		{
			name:    "device restriction mismatch",
			mutate:  func(c *Coupon) { c.UseDevice = strPtr("mobile") },
			amount:  dec("200"),
			device:  "desktop",
			wantErr: ErrDeviceNotAllowed,
		},
		{
			name:    "device restriction with no device supplied",
			mutate:  func(c *Coupon) { c.UseDevice = strPtr("mobile") },
			amount:  dec("200"),
			wantErr: ErrDeviceNotAllowed,
		},
		{
			name:       "device restriction matches case-insensitively",
			mutate:     func(c *Coupon) { c.UseDevice = strPtr("mobile") },
			amount:     dec("200"),
			device:     "Mobile",
			wantAmount: "20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}

			histories := &mockHistoryRepo{userCounts: tt.userCounts, ipCounts: tt.ipCounts}
			v := NewValidator(newCouponRepo(&c), histories)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Evaluate(context.Background(), c.ID, tt.amount, "u1", tt.device, tt.ip)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)

				var rej *RejectionError
				require.ErrorAs(t, err, &rej)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, c.ID, got.Coupon.ID)
			assert.True(t, dec(tt.wantAmount).Equal(got.DiscountAmount),
				"expected discount %s, got %s", tt.wantAmount, got.DiscountAmount)
		})
	}
}

func TestEvaluate_UnknownCoupon(t *testing.T) {
	v := NewValidator(newCouponRepo(), &mockHistoryRepo{})

	_, err := v.Evaluate(context.Background(), 42, dec("100"), "u1", "", "")
	require.ErrorIs(t, err, ErrCouponNotFound)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	v := NewValidator(newCouponRepo(), &mockHistoryRepo{})

	tests := []struct {
		name      string
		couponID  int64
		amount    decimal.Decimal
		userID    string
		wantField string
	}{
		{name: "non-positive coupon id", couponID: 0, amount: dec("100"), userID: "u1", wantField: "coupon_id"},
		{name: "negative amount", couponID: 1, amount: dec("-1"), userID: "u1", wantField: "amount"},
		{name: "missing user", couponID: 1, amount: dec("100"), wantField: "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Evaluate(context.Background(), tt.couponID, tt.amount, tt.userID, "", "")

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestEvaluate_CountErrorPropagates(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := &Coupon{
		ID:              1,
		Code:            "COUNTERR",
		DiscountType:    DiscountFixed,
		Amount:          dec("5"),
		StartDate:       fixedNow.Add(-time.Hour),
		EndDate:         fixedNow.Add(time.Hour),
		UseLimitPerUser: limit(1),
		Enabled:         true,
	}

	histories := &mockHistoryRepo{countErr: assert.AnError}
	v := NewValidator(newCouponRepo(c), histories)
	v.now = func() time.Time { return fixedNow }

	_, err := v.Evaluate(context.Background(), 1, dec("100"), "u1", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count uses by user")
}
