// Package collector drives the job lifecycle: claim, extract, persist,
// schedule the next run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/storage"
	"github.com/user/price-tracker/internal/tiering"
)

// Attempt statuses. The blocked-class statuses double as error codes.
const (
	StatusOK           = "ok"
	StatusCaptcha      = "captcha"
	StatusRobotCheck   = "robot_check"
	StatusHTTP429      = "http_429"
	StatusHTTP503      = "http_503"
	StatusTimeout      = "timeout"
	StatusNetworkError = "network_error"
	StatusNoPrice      = "no_price"
	StatusOtherError   = "other_error"
)

const (
	maxErrorMessageLen = 4000
	historyWindow      = 120
)

// PipelineRunner runs the staged extraction for one product URL.
type PipelineRunner interface {
	Run(ctx context.Context, url string, baselinePrice float64) domain.ExtractionResult
}

// Coordinator owns a claimed job from extraction through its state
// transition. The job's lease is the only concurrency boundary; no
// in-process locking is needed.
type Coordinator struct {
	pipeline  PipelineRunner
	jobs      storage.JobStore
	products  storage.ProductStore
	attempts  storage.AttemptStore
	cooldowns storage.CooldownStore
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	collectorID string
	executor    string
	jobTimeout  time.Duration
	cooldownTTL time.Duration

	now func() time.Time
}

type CoordinatorOptions struct {
	CollectorID string
	Executor    string
	JobTimeout  time.Duration
	CooldownTTL time.Duration
}

func NewCoordinator(
	pipeline PipelineRunner,
	jobs storage.JobStore,
	products storage.ProductStore,
	attempts storage.AttemptStore,
	cooldowns storage.CooldownStore,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	opts CoordinatorOptions,
) *Coordinator {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 90 * time.Second
	}
	if opts.CooldownTTL <= 0 {
		opts.CooldownTTL = 10 * time.Minute
	}
	if opts.Executor == "" {
		opts.Executor = "collector"
	}
	return &Coordinator{
		pipeline:    pipeline,
		jobs:        jobs,
		products:    products,
		attempts:    attempts,
		cooldowns:   cooldowns,
		metrics:     metrics,
		logger:      logger,
		collectorID: opts.CollectorID,
		executor:    opts.Executor,
		jobTimeout:  opts.JobTimeout,
		cooldownTTL: opts.CooldownTTL,
		now:         time.Now,
	}
}

// JobReport summarizes one processed job for logging and the sync API.
type JobReport struct {
	ASIN         string       `json:"asin"`
	Status       string       `json:"status"`
	Tier         domain.Tier  `json:"tier"`
	Method       string       `json:"method,omitempty"`
	Price        *float64     `json:"price,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	Error        string       `json:"error,omitempty"`
	NextScrapeAt time.Time    `json:"next_scrape_at"`
}

// ProcessClaimedJob runs extraction for one leased job and applies the
// success or failure transition. The attempt row is written before the job
// state changes, so the audit trail always explains the transition.
func (c *Coordinator) ProcessClaimedJob(ctx context.Context, job domain.CollectionJob) JobReport {
	startedAt := c.now()

	baseline := 0.0
	if job.LastPrice != nil {
		baseline = *job.LastPrice
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	result := c.pipeline.Run(jobCtx, job.URL, baseline)
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancel()

	if c.metrics != nil {
		c.metrics.ObserveStage(result.Method, c.now().Sub(startedAt))
	}

	if result.Price != nil {
		return c.completeSuccess(ctx, job, result, startedAt)
	}
	var timeoutErr error
	if timedOut {
		timeoutErr = context.DeadlineExceeded
	}
	return c.completeFailure(ctx, job, result, timeoutErr, startedAt)
}

func (c *Coordinator) completeSuccess(ctx context.Context, job domain.CollectionJob, result domain.ExtractionResult, startedAt time.Time) JobReport {
	now := c.now()
	price := result.Price.Numeric
	currency := result.Price.Currency

	err := c.products.AppendPriceHistory(ctx, domain.PriceHistoryPoint{
		ProductID: job.ProductID,
		Price:     price,
		Currency:  currency,
		ScrapedAt: now,
	})
	if err != nil {
		// Without the history row the observation is lost; treat as a
		// failed attempt rather than pretend it succeeded.
		return c.completeFailure(ctx, job, result, fmt.Errorf("append price history: %w", err), startedAt)
	}

	nextTier := job.Tier
	if job.TierMode == domain.TierModeAuto {
		history, histErr := c.products.RecentPrices(ctx, job.ProductID, historyWindow)
		if histErr != nil {
			c.logger.Warn("recent prices unavailable, keeping tier",
				zap.String("asin", job.ASIN), zap.Error(histErr))
		} else {
			nextTier = tiering.RecommendAutoTier(history, now)
		}
	}

	priceChanged := job.LastPrice == nil || tiering.PriceChanged(*job.LastPrice, price)
	nextScrapeAt := tiering.NextScrapeAt(nextTier, now)

	zeroFailures := 0
	emptyError := ""
	patch := storage.ProductPatch{
		Tier:                &nextTier,
		NextScrapeAt:        &nextScrapeAt,
		LastPrice:           &price,
		LastScrapedAt:       &now,
		ConsecutiveFailures: &zeroFailures,
		LastError:           &emptyError,
	}
	if priceChanged {
		patch.LastPriceChangeAt = &now
	}
	if err := c.products.UpdateProduct(ctx, job.ProductID, patch); err != nil {
		c.logger.Warn("product update failed", zap.String("asin", job.ASIN), zap.Error(err))
	}

	attempt := domain.CollectionAttempt{
		JobID:       job.ID,
		ProductID:   job.ProductID,
		CollectorID: c.collectorID,
		Executor:    c.executor,
		Method:      result.Method,
		Status:      StatusOK,
		HTTPStatus:  result.HTTPStatus,
		Price:       &price,
		Currency:    currency,
		Confidence:  result.Confidence,
		Debug:       result.Debug,
		StartedAt:   startedAt,
		FinishedAt:  c.now(),
	}
	if err := c.attempts.InsertAttempt(ctx, attempt); err != nil {
		c.logger.Warn("attempt insert failed", zap.String("asin", job.ASIN), zap.Error(err))
	}

	if err := c.jobs.CompleteJob(ctx, job.ID, domain.JobDone, "", &nextScrapeAt); err != nil {
		c.logger.Warn("job completion failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	if c.metrics != nil {
		c.metrics.IncAttempt(StatusOK)
	}
	c.logger.Info("price collected",
		zap.String("asin", job.ASIN),
		zap.Float64("price", price),
		zap.String("currency", currency),
		zap.String("method", result.Method),
		zap.String("tier", string(nextTier)))

	return JobReport{
		ASIN:         job.ASIN,
		Status:       StatusOK,
		Tier:         nextTier,
		Method:       result.Method,
		Price:        &price,
		Currency:     currency,
		Confidence:   result.Confidence,
		NextScrapeAt: nextScrapeAt,
	}
}

func (c *Coordinator) completeFailure(ctx context.Context, job domain.CollectionJob, result domain.ExtractionResult, err error, startedAt time.Time) JobReport {
	now := c.now()
	classified := classifyFailure(result, err)
	errorMessage := failureMessage(result, err)

	nextFailures := job.ConsecutiveFailures + 1
	nextTier := job.Tier
	if job.TierMode == domain.TierModeAuto && nextFailures >= 3 {
		nextTier = tiering.Demote(job.Tier)
	}

	backoff := time.Duration(tiering.FailureBackoffMinutes(nextFailures)) * time.Minute
	nextScrapeAt := now.Add(backoff)

	patch := storage.ProductPatch{
		Tier:                &nextTier,
		NextScrapeAt:        &nextScrapeAt,
		ConsecutiveFailures: &nextFailures,
		LastError:           &errorMessage,
	}
	if updateErr := c.products.UpdateProduct(ctx, job.ProductID, patch); updateErr != nil {
		c.logger.Warn("product update failed", zap.String("asin", job.ASIN), zap.Error(updateErr))
	}

	method := result.Method
	if method == "" {
		method = domain.MethodHTMLJSON
	}
	attempt := domain.CollectionAttempt{
		JobID:         job.ID,
		ProductID:     job.ProductID,
		CollectorID:   c.collectorID,
		Executor:      c.executor,
		Method:        method,
		Status:        classified.Status,
		HTTPStatus:    classified.HTTPStatus,
		BlockedSignal: classified.BlockedSignal,
		ErrorCode:     classified.Status,
		ErrorMessage:  errorMessage,
		Debug:         result.Debug,
		StartedAt:     startedAt,
		FinishedAt:    c.now(),
	}
	if insertErr := c.attempts.InsertAttempt(ctx, attempt); insertErr != nil {
		c.logger.Warn("attempt insert failed", zap.String("asin", job.ASIN), zap.Error(insertErr))
	}

	state := domain.JobQueued
	var nextScheduled *time.Time
	if job.AttemptCount >= job.MaxAttempts {
		state = domain.JobDead
	} else {
		nextScheduled = &nextScrapeAt
	}
	if completeErr := c.jobs.CompleteJob(ctx, job.ID, state, errorMessage, nextScheduled); completeErr != nil {
		c.logger.Warn("job completion failed", zap.String("job_id", job.ID), zap.Error(completeErr))
	}

	if classified.BlockedSignal && c.cooldowns != nil {
		if cdErr := c.cooldowns.SetDomainCooldown(ctx, job.Domain, c.cooldownTTL); cdErr != nil {
			c.logger.Warn("cooldown set failed", zap.String("domain", job.Domain), zap.Error(cdErr))
		}
	}

	if c.metrics != nil {
		c.metrics.IncAttempt(classified.Status)
		c.metrics.IncError(classified.Status)
	}
	c.logger.Warn("collection failed",
		zap.String("asin", job.ASIN),
		zap.String("status", classified.Status),
		zap.String("error", errorMessage),
		zap.String("job_state", string(state)),
		zap.Int("consecutive_failures", nextFailures))

	return JobReport{
		ASIN:         job.ASIN,
		Status:       classified.Status,
		Tier:         nextTier,
		Method:       method,
		Error:        errorMessage,
		NextScrapeAt: nextScrapeAt,
	}
}

type failureClass struct {
	Status        string
	BlockedSignal bool
	HTTPStatus    int
}

// classifyFailure maps an extraction outcome to the attempt taxonomy.
// Blocked signals win over everything; HTTP rate-limit codes over message
// heuristics; timeouts over network faults.
func classifyFailure(result domain.ExtractionResult, err error) failureClass {
	message := ""
	if err != nil {
		message = strings.ToLower(err.Error())
	}
	httpStatus := result.HTTPStatus

	if result.BlockedSignal {
		reason := strings.ToLower(result.BlockedReason)
		switch {
		case strings.Contains(reason, "captcha"):
			return failureClass{StatusCaptcha, true, httpStatus}
		case strings.Contains(reason, "robot"):
			return failureClass{StatusRobotCheck, true, httpStatus}
		case httpStatus == 429:
			return failureClass{StatusHTTP429, true, 429}
		case httpStatus == 503:
			return failureClass{StatusHTTP503, true, 503}
		default:
			return failureClass{StatusCaptcha, true, httpStatus}
		}
	}

	switch {
	case httpStatus == 429 || strings.Contains(message, "429"):
		return failureClass{StatusHTTP429, true, 429}
	case httpStatus == 503 || strings.Contains(message, "503"):
		return failureClass{StatusHTTP503, true, 503}
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(message, "timeout"),
		strings.Contains(message, "timed out"):
		return failureClass{StatusTimeout, false, httpStatus}
	case strings.Contains(message, "connection refused"),
		strings.Contains(message, "no such host"),
		strings.Contains(message, "network"):
		return failureClass{StatusNetworkError, false, httpStatus}
	case err == nil, strings.Contains(message, "no price"):
		return failureClass{StatusNoPrice, false, httpStatus}
	default:
		return failureClass{StatusOtherError, false, httpStatus}
	}
}

// failureMessage builds the persisted error string. Always non-empty.
func failureMessage(result domain.ExtractionResult, err error) string {
	var message string
	switch {
	case result.BlockedSignal:
		reason := result.BlockedReason
		if reason == "" {
			reason = "challenge"
		}
		message = fmt.Sprintf("Blocked page detected (%s)", reason)
	case err != nil:
		message = err.Error()
	default:
		var details []string
		if result.HTTPStatus != 0 {
			details = append(details, fmt.Sprintf("http=%d", result.HTTPStatus))
		}
		if result.FinalURL != "" {
			details = append(details, "final_url="+result.FinalURL)
		}
		if result.PageTitle != "" {
			title := strings.Join(strings.Fields(result.PageTitle), " ")
			if len(title) > 120 {
				title = title[:120]
			}
			details = append(details, "title="+title)
		}
		message = "Could not extract price from the page."
		if len(details) > 0 {
			message += " " + strings.Join(details, " | ")
		}
	}
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	return message
}
