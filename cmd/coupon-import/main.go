// Command coupon-import bulk-creates coupons from gzipped code lists, one
// code per line. All imported codes share one discount rule given by
// flags. Codes are deduplicated across files with a bloom filter before a
// batched insert that skips codes already present in the database.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/couponkit/couponkit/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 1_000
	progressEvery = 1_000_000
	minCodeLen    = 3
	maxCodeLen    = 32
)

const insertCouponSQL = `INSERT INTO coupons (code, discount_type, amount, start_date, end_date, use_limit, enabled)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (code) DO NOTHING`

// rule is the shared discount applied to every imported code.
type rule struct {
	discountType string
	amount       decimal.Decimal
	startDate    time.Time
	endDate      time.Time
	useLimit     *int32
	enabled      bool
}

func main() {
	var (
		databaseURL  string
		discountType string
		amount       string
		start        string
		end          string
		useLimit     int
		enabled      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "type", "percentage", "discount type for imported codes: fixed or percentage")
	flag.StringVar(&amount, "amount", "10", "discount value for imported codes")
	flag.StringVar(&start, "start", "", "validity start, YYYY-MM-DD (default today)")
	flag.StringVar(&end, "end", "", "validity end, YYYY-MM-DD (required)")
	flag.IntVar(&useLimit, "use-limit", 0, "total redemption cap per code (0 = unlimited)")
	flag.BoolVar(&enabled, "enabled", true, "import codes enabled")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no input files: pass one or more .gz code lists")
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	r, err := parseRule(discountType, amount, start, end, useLimit, enabled)
	if err != nil {
		slog.Error("invalid rule flags", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, r); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed")
}

func parseRule(discountType, amount, start, end string, useLimit int, enabled bool) (*rule, error) {
	if discountType != "fixed" && discountType != "percentage" {
		return nil, errors.Errorf("unknown discount type %q", discountType)
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrap(err, "parse amount")
	}

	startDate := time.Now().UTC().Truncate(24 * time.Hour)
	if start != "" {
		if startDate, err = time.Parse("2006-01-02", start); err != nil {
			return nil, errors.Wrap(err, "parse start date")
		}
	}

	if end == "" {
		return nil, errors.New("end date is required")
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, errors.Wrap(err, "parse end date")
	}
	if endDate.Before(startDate) {
		return nil, errors.New("end date is before start date")
	}

	r := &rule{
		discountType: discountType,
		amount:       value,
		startDate:    startDate,
		endDate:      endDate,
		enabled:      enabled,
	}
	if useLimit > 0 {
		limit := int32(useLimit)
		r.useLimit = &limit
	}
	return r, nil
}

func run(ctx context.Context, files []string, databaseURL string, r *rule) error {
	slog.Info("collecting codes", slog.Int("files", len(files)))

	codes, err := collectCodes(ctx, files)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}

	slog.Info("unique codes collected", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		slog.Info("nothing to import")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	inserted, err := writeCoupons(ctx, pool, codes, r)
	if err != nil {
		return errors.Wrap(err, "write coupons")
	}

	slog.Info("codes imported",
		slog.Int("inserted", inserted),
		slog.Int("skipped", len(codes)-inserted),
	)
	return nil
}

// collectCodes streams every file concurrently and merges the results
// into one deduplicated slice. The bloom filter rejects the bulk of the
// repeats cheaply; the map makes the dedupe exact.
func collectCodes(ctx context.Context, files []string) ([]string, error) {
	var (
		mu     sync.Mutex
		filter = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		seen   = make(map[string]struct{})
		codes  []string
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			var count uint64
			err := streamGzFile(ctx, f, func(code string) {
				count++
				if count%progressEvery == 0 {
					slog.Info("scan progress", slog.String("file", f), slog.Uint64("codes", count))
				}
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}

				mu.Lock()
				defer mu.Unlock()
				if filter.TestAndAddString(code) {
					if _, dup := seen[code]; dup {
						return
					}
				}
				seen[code] = struct{}{}
				codes = append(codes, code)
			})
			return errors.Wrapf(err, "stream %s", f)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

// streamGzFile reads a gzipped file line by line, calling fn for each
// trimmed non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open file")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "open gzip reader")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var line uint64
	for scanner.Scan() {
		line++
		if line%4096 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		code := strings.TrimSpace(scanner.Text())
		if code != "" {
			fn(code)
		}
	}
	return scanner.Err()
}

// writeCoupons inserts the codes in batches, skipping codes that already
// exist. Returns the number of rows actually inserted.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, codes []string, r *rule) (int, error) {
	inserted := 0

	for offset := 0; offset < len(codes); offset += batchSize {
		chunk := codes[offset:min(offset+batchSize, len(codes))]

		batch := &pgx.Batch{}
		for _, code := range chunk {
			batch.Queue(insertCouponSQL,
				code, r.discountType, r.amount, r.startDate, r.endDate, r.useLimit, r.enabled)
		}

		results := pool.SendBatch(ctx, batch)
		for range chunk {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return inserted, errors.Wrap(err, "insert batch")
			}
			inserted += int(tag.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return inserted, errors.Wrap(err, "close batch")
		}

		slog.Info("batch written", slog.Int("total", offset+len(chunk)), slog.Int("inserted", inserted))
	}

	return inserted, nil
}
