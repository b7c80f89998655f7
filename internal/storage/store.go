// Package storage defines the persistence contracts of the collector and
// their PostgreSQL/Redis implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/user/price-tracker/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// JobStore manages the collection job queue. Claiming is the only
// concurrency boundary in the system: a claimed job is invisible to other
// collectors until its lease expires.
type JobStore interface {
	// ClaimJobs atomically leases up to limit due queued jobs for
	// collectorID. When routeHint is non-empty only matching jobs are
	// considered. Jobs on cooled-down domains are skipped.
	ClaimJobs(ctx context.Context, collectorID string, limit int, lease time.Duration, routeHint string, skipDomains []string) ([]domain.CollectionJob, error)

	// CompleteJob transitions a leased job to its terminal or requeued
	// state and clears the lease.
	CompleteJob(ctx context.Context, jobID string, state domain.JobState, lastError string, nextScheduledFor *time.Time) error

	// RequeueExpiredJobs returns leased jobs whose lease has lapsed to the
	// queue. Reports how many were requeued.
	RequeueExpiredJobs(ctx context.Context, limit int) (int, error)

	// EnqueueDueJobs inserts queued jobs for active products whose
	// next_scrape_at has passed, deduplicated per product and due time.
	EnqueueDueJobs(ctx context.Context, limit int) (int, error)

	// QueueDepth counts jobs currently in the queued state.
	QueueDepth(ctx context.Context) (int, error)
}

// ProductPatch carries the scheduling fields the coordinator updates after
// an attempt. Nil pointers leave the column untouched.
type ProductPatch struct {
	Tier                *domain.Tier
	NextScrapeAt        *time.Time
	LastPrice           *float64
	LastScrapedAt       *time.Time
	LastPriceChangeAt   *time.Time
	ConsecutiveFailures *int
	LastError           *string
}

// ProductStore reads and updates tracked products and their price history.
type ProductStore interface {
	ProductByASIN(ctx context.Context, asin string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, productID int64, patch ProductPatch) error
	AppendPriceHistory(ctx context.Context, point domain.PriceHistoryPoint) error

	// RecentPrices returns up to limit history points, newest first.
	RecentPrices(ctx context.Context, productID int64, limit int) ([]domain.PriceHistoryPoint, error)
}

// AttemptStore records the immutable audit trail of processing attempts.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt domain.CollectionAttempt) error
}

// CollectorStore tracks worker identities and liveness.
type CollectorStore interface {
	UpsertCollector(ctx context.Context, collector domain.Collector) error
	Heartbeat(ctx context.Context, collectorID string) (domain.CollectorStatus, error)
}

// CooldownStore holds short-lived per-domain block cooldowns.
type CooldownStore interface {
	SetDomainCooldown(ctx context.Context, domainName string, ttl time.Duration) error
	CooledDomains(ctx context.Context) ([]string, error)
}
