package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/price-tracker/internal/domain"
)

// PostgresStore implements JobStore, ProductStore, AttemptStore and
// CollectorStore on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

const claimQuery = `
	WITH due AS (
		SELECT j.id
		FROM collection_jobs j
		WHERE j.state = 'queued'
		  AND j.scheduled_for <= now()
		  AND ($3 = '' OR j.route_hint = '' OR j.route_hint = $3)
		  AND NOT (j.domain = ANY($4))
		ORDER BY j.priority DESC, j.scheduled_for ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE collection_jobs j
	SET state = 'leased',
	    leased_by = $1,
	    lease_until = now() + make_interval(secs => $5),
	    attempt_count = j.attempt_count + 1
	FROM due, products p
	WHERE j.id = due.id AND p.id = j.product_id
	RETURNING j.id, j.product_id, j.asin, j.domain, j.url, j.scheduled_for,
	          j.priority, j.route_hint, j.dedupe_key, j.attempt_count,
	          j.max_attempts, j.lease_until,
	          p.tier, p.tier_mode, p.last_price, p.consecutive_failures;
`

// ClaimJobs leases due queued jobs with FOR UPDATE SKIP LOCKED, so
// concurrent collectors never double-claim. The returned rows carry a
// snapshot of the product's scheduling fields.
func (s *PostgresStore) ClaimJobs(ctx context.Context, collectorID string, limit int, lease time.Duration, routeHint string, skipDomains []string) ([]domain.CollectionJob, error) {
	if skipDomains == nil {
		skipDomains = []string{}
	}
	rows, err := s.db.Query(ctx, claimQuery,
		collectorID, limit, routeHint, skipDomains, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.CollectionJob
	for rows.Next() {
		var (
			job      domain.CollectionJob
			tier     string
			tierMode string
		)
		err := rows.Scan(
			&job.ID, &job.ProductID, &job.ASIN, &job.Domain, &job.URL,
			&job.ScheduledFor, &job.Priority, &job.RouteHint, &job.DedupeKey,
			&job.AttemptCount, &job.MaxAttempts, &job.LeaseUntil,
			&tier, &tierMode, &job.LastPrice, &job.ConsecutiveFailures,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		job.State = domain.JobLeased
		job.LeasedBy = collectorID
		job.Tier = domain.NormalizeTier(tier, domain.TierDaily)
		job.TierMode = domain.TierMode(tierMode)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CompleteJob moves a leased job into its next state. Requeued jobs get a
// fresh scheduled_for; done and dead jobs keep their timestamps for audit.
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, state domain.JobState, lastError string, nextScheduledFor *time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE collection_jobs
		 SET state = $2,
		     last_error = $3,
		     scheduled_for = COALESCE($4, scheduled_for),
		     leased_by = '',
		     lease_until = NULL,
		     updated_at = now()
		 WHERE id = $1 AND state = 'leased'`,
		jobID, string(state), lastError, nextScheduledFor)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// RequeueExpiredJobs returns lapsed leases to the queue so another
// collector can pick them up.
func (s *PostgresStore) RequeueExpiredJobs(ctx context.Context, limit int) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE collection_jobs
		 SET state = 'queued', leased_by = '', lease_until = NULL, updated_at = now()
		 WHERE id IN (
		     SELECT id FROM collection_jobs
		     WHERE state = 'leased' AND lease_until < now()
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )`,
		limit)
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// EnqueueDueJobs creates queued jobs for active products whose schedule has
// passed. The dedupe key (asin + due epoch) keeps repeated sweeps from
// stacking duplicate jobs.
func (s *PostgresStore) EnqueueDueJobs(ctx context.Context, limit int) (int, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO collection_jobs
		     (id, product_id, asin, domain, url, scheduled_for, priority, state, route_hint, dedupe_key, attempt_count, max_attempts)
		 SELECT gen_random_uuid(), p.id, p.asin, p.domain, p.url, p.next_scrape_at, 0, 'queued', '',
		        p.asin || ':' || extract(epoch FROM p.next_scrape_at)::bigint, 0, 3
		 FROM products p
		 WHERE p.is_active AND p.next_scrape_at <= now()
		   AND NOT EXISTS (
		       SELECT 1 FROM collection_jobs j
		       WHERE j.product_id = p.id AND j.state IN ('queued', 'leased')
		   )
		 ORDER BY p.next_scrape_at ASC
		 LIMIT $1
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		limit)
	if err != nil {
		return 0, fmt.Errorf("enqueue due jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM collection_jobs WHERE state = 'queued'`).Scan(&depth)
	return depth, err
}

func (s *PostgresStore) ProductByASIN(ctx context.Context, asin string) (*domain.Product, error) {
	var (
		p        domain.Product
		tier     string
		tierMode string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, asin, domain, url, title, tier, tier_mode, is_active,
		        next_scrape_at, last_price, last_scraped_at, last_price_change_at,
		        consecutive_failures, COALESCE(last_error, '')
		 FROM products WHERE asin = $1`,
		asin,
	).Scan(&p.ID, &p.ASIN, &p.Domain, &p.URL, &p.Title, &tier, &tierMode,
		&p.IsActive, &p.NextScrapeAt, &p.LastPrice, &p.LastScrapedAt,
		&p.LastPriceChangeAt, &p.ConsecutiveFailures, &p.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("product by asin %s: %w", asin, err)
	}
	p.Tier = domain.NormalizeTier(tier, domain.TierDaily)
	p.TierMode = domain.TierMode(tierMode)
	return &p, nil
}

// UpdateProduct patches only the fields set in patch.
func (s *PostgresStore) UpdateProduct(ctx context.Context, productID int64, patch ProductPatch) error {
	_, err := s.db.Exec(ctx,
		`UPDATE products SET
		     tier = COALESCE($2, tier),
		     next_scrape_at = COALESCE($3, next_scrape_at),
		     last_price = COALESCE($4, last_price),
		     last_scraped_at = COALESCE($5, last_scraped_at),
		     last_price_change_at = COALESCE($6, last_price_change_at),
		     consecutive_failures = COALESCE($7, consecutive_failures),
		     last_error = COALESCE($8, last_error),
		     updated_at = now()
		 WHERE id = $1`,
		productID,
		tierValue(patch.Tier), patch.NextScrapeAt, patch.LastPrice,
		patch.LastScrapedAt, patch.LastPriceChangeAt,
		patch.ConsecutiveFailures, patch.LastError)
	if err != nil {
		return fmt.Errorf("update product %d: %w", productID, err)
	}
	return nil
}

func tierValue(tier *domain.Tier) *string {
	if tier == nil {
		return nil
	}
	value := string(*tier)
	return &value
}

func (s *PostgresStore) AppendPriceHistory(ctx context.Context, point domain.PriceHistoryPoint) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO price_history (product_id, price, currency, scraped_at)
		 VALUES ($1, $2, $3, $4)`,
		point.ProductID, point.Price, point.Currency, point.ScrapedAt)
	if err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentPrices(ctx context.Context, productID int64, limit int) ([]domain.PriceHistoryPoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT product_id, price, currency, scraped_at
		 FROM price_history
		 WHERE product_id = $1
		 ORDER BY scraped_at DESC
		 LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent prices: %w", err)
	}
	defer rows.Close()

	var points []domain.PriceHistoryPoint
	for rows.Next() {
		var point domain.PriceHistoryPoint
		if err := rows.Scan(&point.ProductID, &point.Price, &point.Currency, &point.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

func (s *PostgresStore) InsertAttempt(ctx context.Context, attempt domain.CollectionAttempt) error {
	debugJSON, err := json.Marshal(attempt.Debug)
	if err != nil {
		return fmt.Errorf("marshal attempt debug: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO collection_attempts
		     (job_id, product_id, collector_id, executor, method, status,
		      http_status, blocked_signal, error_code, error_message,
		      price, currency, confidence, debug, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		attempt.JobID, attempt.ProductID, attempt.CollectorID, attempt.Executor,
		attempt.Method, attempt.Status, attempt.HTTPStatus, attempt.BlockedSignal,
		attempt.ErrorCode, attempt.ErrorMessage, attempt.Price, attempt.Currency,
		attempt.Confidence, debugJSON, attempt.StartedAt, attempt.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertCollector(ctx context.Context, collector domain.Collector) error {
	capsJSON, err := json.Marshal(collector.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal collector capabilities: %w", err)
	}
	metaJSON, err := json.Marshal(collector.Metadata)
	if err != nil {
		return fmt.Errorf("marshal collector metadata: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO collectors (id, user_id, name, kind, status, capabilities, metadata, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     kind = EXCLUDED.kind,
		     capabilities = EXCLUDED.capabilities,
		     metadata = EXCLUDED.metadata,
		     last_seen_at = now()`,
		collector.ID, collector.UserID, collector.Name, collector.Kind,
		string(collector.Status), capsJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("upsert collector: %w", err)
	}
	return nil
}

// Heartbeat bumps last_seen_at and reports the collector's current status,
// so a paused or revoked worker learns about it on its next poll.
func (s *PostgresStore) Heartbeat(ctx context.Context, collectorID string) (domain.CollectorStatus, error) {
	var status string
	err := s.db.QueryRow(ctx,
		`UPDATE collectors SET last_seen_at = now() WHERE id = $1 RETURNING status`,
		collectorID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("heartbeat %s: %w", collectorID, err)
	}
	return domain.CollectorStatus(status), nil
}
