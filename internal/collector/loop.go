package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/storage"
)

const (
	requeueSweepLimit = 200
	defaultLease      = 120 * time.Second
	defaultRouteHint  = "collector_first"
	defaultClaimLimit = 5
)

// LoopConfig tunes the poll loop.
type LoopConfig struct {
	CollectorID  string
	PollInterval time.Duration
	ClaimLimit   int
	Lease        time.Duration
	RouteHint    string
}

// SyncReport aggregates one poll cycle.
type SyncReport struct {
	Processed int         `json:"processed"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Paused    bool        `json:"paused,omitempty"`
	Items     []JobReport `json:"items"`
}

// Loop polls the job queue on a fixed interval. Jobs within a cycle are
// processed sequentially; cross-process concurrency comes from the claim
// lease alone.
type Loop struct {
	coordinator *Coordinator
	jobs        storage.JobStore
	collectors  storage.CollectorStore
	cooldowns   storage.CooldownStore
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	cfg         LoopConfig
}

func NewLoop(
	coordinator *Coordinator,
	jobs storage.JobStore,
	collectors storage.CollectorStore,
	cooldowns storage.CooldownStore,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	cfg LoopConfig,
) *Loop {
	if cfg.PollInterval < 5*time.Second {
		cfg.PollInterval = 20 * time.Second
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = defaultClaimLimit
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.RouteHint == "" {
		cfg.RouteHint = defaultRouteHint
	}
	return &Loop{
		coordinator: coordinator,
		jobs:        jobs,
		collectors:  collectors,
		cooldowns:   cooldowns,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Run polls until ctx is cancelled. The sleep is pollInterval minus the
// cycle's elapsed time, floored at zero.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("collector loop started",
		zap.String("collector_id", l.cfg.CollectorID),
		zap.Duration("poll_interval", l.cfg.PollInterval),
		zap.Int("claim_limit", l.cfg.ClaimLimit))

	for {
		started := time.Now()
		report := l.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := l.cfg.PollInterval
		if !report.Paused {
			wait -= time.Since(started)
			if wait < 0 {
				wait = 0
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce performs one poll cycle: heartbeat, queue maintenance, claim,
// process. Maintenance calls are best-effort; a failed sweep only delays
// work, it never loses it.
func (l *Loop) RunOnce(ctx context.Context) SyncReport {
	if l.collectors != nil {
		status, err := l.collectors.Heartbeat(ctx, l.cfg.CollectorID)
		if err != nil {
			l.logger.Warn("heartbeat failed", zap.Error(err))
		} else if status == domain.CollectorPaused {
			return SyncReport{Paused: true, Items: []JobReport{}}
		}
	}

	if _, err := l.jobs.RequeueExpiredJobs(ctx, requeueSweepLimit); err != nil {
		l.logger.Warn("requeue sweep failed", zap.Error(err))
	}
	if _, err := l.jobs.EnqueueDueJobs(ctx, l.cfg.ClaimLimit*2); err != nil {
		l.logger.Warn("enqueue sweep failed", zap.Error(err))
	}

	if l.metrics != nil {
		if depth, err := l.jobs.QueueDepth(ctx); err != nil {
			l.logger.Warn("queue depth lookup failed", zap.Error(err))
		} else {
			l.metrics.SetQueueDepth(depth)
		}
	}

	var skipDomains []string
	if l.cooldowns != nil {
		cooled, err := l.cooldowns.CooledDomains(ctx)
		if err != nil {
			l.logger.Warn("cooldown lookup failed", zap.Error(err))
		} else {
			skipDomains = cooled
		}
	}

	jobs, err := l.jobs.ClaimJobs(ctx, l.cfg.CollectorID, l.cfg.ClaimLimit, l.cfg.Lease, l.cfg.RouteHint, skipDomains)
	if err != nil {
		l.logger.Error("claim failed", zap.Error(err))
		return SyncReport{Items: []JobReport{}}
	}

	report := SyncReport{Items: make([]JobReport, 0, len(jobs))}
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		item := l.coordinator.ProcessClaimedJob(ctx, job)
		report.Items = append(report.Items, item)
		report.Processed++
		if item.Status == StatusOK {
			report.Success++
		} else {
			report.Failed++
		}
	}
	return report
}
