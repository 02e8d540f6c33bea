//go:build integration

package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couponkit/couponkit/internal/domain/coupon"
	"github.com/couponkit/couponkit/internal/storage/postgres"
)

const (
	dbUser = "coupon"
	dbPass = "coupon"
	dbName = "coupon"
)

var (
	pool *pgxpool.Pool
	svc  *coupon.Service
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:17-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     dbUser,
				"POSTGRES_PASSWORD": dbPass,
				"POSTGRES_DB":       dbName,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Printf("terminate container: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPass, host, port.Port(), dbName)

	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	svc = coupon.NewService(
		postgres.NewCouponRepository(pool),
		postgres.NewHistoryRepository(pool),
		nil,
		nil,
	)

	return m.Run()
}

// Helpers.

func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// addCoupon creates an enabled coupon valid for a day around now, then
// lets the mutator adjust the params before creation.
func addCoupon(t *testing.T, mutate func(p *coupon.AddParams)) *coupon.Coupon {
	t.Helper()

	now := time.Now()
	p := coupon.AddParams{
		Code:         uniqueCode("IT"),
		DiscountType: coupon.DiscountPercentage,
		Amount:       decimal.NewFromInt(10),
		StartDate:    now.Add(-12 * time.Hour),
		EndDate:      now.Add(12 * time.Hour),
		Enabled:      true,
	}
	if mutate != nil {
		mutate(&p)
	}

	c, err := svc.Add(context.Background(), p)
	require.NoError(t, err)
	return c
}

func applyParams(code string, amount int64) coupon.ApplyParams {
	return coupon.ApplyParams{
		Code:    code,
		Amount:  decimal.NewFromInt(amount),
		UserID:  "user-" + uuid.NewString()[:8],
		OrderID: uuid.NewString(),
	}
}

func historyCount(t *testing.T, couponID int64) int64 {
	t.Helper()

	var count int64
	err := pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM coupon_history WHERE coupon_id = $1", couponID).Scan(&count)
	require.NoError(t, err)
	return count
}

func totalUse(t *testing.T, couponID int64) int32 {
	t.Helper()

	var n int32
	err := pool.QueryRow(context.Background(),
		"SELECT total_use FROM coupons WHERE id = $1", couponID).Scan(&n)
	require.NoError(t, err)
	return n
}

func limitPtr(n int32) *int32 { return &n }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
