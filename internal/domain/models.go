package domain

import "time"

// Tier is the polling frequency class assigned to a product.
type Tier string

const (
	TierHourly Tier = "hourly"
	TierDaily  Tier = "daily"
	TierWeekly Tier = "weekly"
)

// ValidTiers lists the accepted tiers in promotion order.
var ValidTiers = []Tier{TierHourly, TierDaily, TierWeekly}

// NormalizeTier maps arbitrary input to a valid tier, or fallback.
func NormalizeTier(value string, fallback Tier) Tier {
	switch Tier(value) {
	case TierHourly, TierDaily, TierWeekly:
		return Tier(value)
	}
	return fallback
}

// TierMode controls whether the tier is recomputed from price history.
type TierMode string

const (
	TierModeAuto   TierMode = "auto"
	TierModeManual TierMode = "manual"
)

// Product mirrors the `products` table fields the collector reads and writes.
type Product struct {
	ID                  int64
	ASIN                string
	Domain              string
	URL                 string
	Title               string
	Tier                Tier
	TierMode            TierMode
	IsActive            bool
	NextScrapeAt        time.Time
	LastPrice           *float64
	LastScrapedAt       *time.Time
	LastPriceChangeAt   *time.Time
	ConsecutiveFailures int
	LastError           string
}

// PriceHistoryPoint is one successful price observation. Append-only.
type PriceHistoryPoint struct {
	ProductID int64
	Price     float64
	Currency  string
	ScrapedAt time.Time
}

// JobState is the lifecycle state of a collection job.
type JobState string

const (
	JobQueued JobState = "queued"
	JobLeased JobState = "leased"
	JobDone   JobState = "done"
	JobDead   JobState = "dead"
)

// CollectionJob is one scheduled unit of scraping work. At most one active
// lease exists per job; the store enforces that atomically.
type CollectionJob struct {
	ID           string
	ProductID    int64
	ASIN         string
	Domain       string
	URL          string
	ScheduledFor time.Time
	Priority     int
	State        JobState
	RouteHint    string
	DedupeKey    string
	AttemptCount int
	MaxAttempts  int
	LeasedBy     string
	LeaseUntil   *time.Time
	LastError    string

	// Product scheduling fields snapshotted at claim time so the
	// coordinator does not need a second read.
	Tier                Tier
	TierMode            TierMode
	LastPrice           *float64
	ConsecutiveFailures int
}

// CollectionAttempt is the immutable audit row written once per processing
// attempt, success or not.
type CollectionAttempt struct {
	JobID         string
	ProductID     int64
	CollectorID   string
	Executor      string
	Method        string
	Status        string
	HTTPStatus    int
	BlockedSignal bool
	ErrorCode     string
	ErrorMessage  string
	Price         *float64
	Currency      string
	Confidence    float64
	Debug         map[string]any
	StartedAt     time.Time
	FinishedAt    time.Time
}

// CollectorStatus is the registration state of a worker identity.
type CollectorStatus string

const (
	CollectorActive  CollectorStatus = "active"
	CollectorPaused  CollectorStatus = "paused"
	CollectorRevoked CollectorStatus = "revoked"
)

// Collector identifies a worker process that may claim jobs.
type Collector struct {
	ID           string
	UserID       string
	Name         string
	Kind         string
	Status       CollectorStatus
	Capabilities map[string]bool
	Metadata     map[string]string
	LastSeenAt   time.Time
}

// ExtractionStatus is the terminal outcome class of one extraction run.
type ExtractionStatus string

const (
	ExtractionOK      ExtractionStatus = "ok"
	ExtractionNoPrice ExtractionStatus = "no_price"
	ExtractionBlocked ExtractionStatus = "blocked"
)

// Extraction methods, in pipeline order.
const (
	MethodHTMLJSON = "html_json"
	MethodVision   = "vision"
	MethodDOM      = "railway_dom"
)

// Price is a parsed price with its display form.
type Price struct {
	Display  string
	Numeric  float64
	Currency string
}

// ExtractionResult is the terminal outcome of a pipeline run. Stages never
// return errors for page-level failures; they return one of these.
type ExtractionResult struct {
	Status        ExtractionStatus
	Method        string
	PriceRaw      string
	Price         *Price
	Confidence    float64
	BlockedSignal bool
	BlockedReason string
	HTTPStatus    int
	PageTitle     string
	FinalURL      string
	Debug         map[string]any
}
