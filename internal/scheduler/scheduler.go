package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/clock"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReleaseFunds = "release_funds"
	JobFeeBackfill  = "fee_backfill"

	lockKeyPrefix = "splitledger:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	SettlementSvc settlementdomain.Service
	GenID         *snowflake.Node
	Clock         clock.Clock
	Locker        *ratelimit.Locker            `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
	Config        Config                       `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	locker        *ratelimit.Locker
	metrics       *obsmetrics.SchedulerMetrics
	settlementSvc settlementdomain.Service

	mu           sync.Mutex
	lastBackfill time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SettlementSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		locker:        p.Locker,
		metrics:       p.Metrics,
		settlementSvc: p.SettlementSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, r, owner := s.beginRun(ctx, name, batchSize)
	s.metrics.IncJobRun(name)

	err := s.exclusive(ctx, name, fn)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && r.failed == 0 {
			r.failed++
		}
		r.finish(s.clock.Now())
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		r.log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// exclusive runs fn under a cluster-wide lock when Redis is configured, so
// only one replica sweeps a job at a time. Row claims stay safe without it.
func (s *Scheduler) exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	ran, err := s.locker.WithLock(ctx, lockKeyPrefix+name, s.cfg.LockTTL, fn)
	if !ran && err == nil {
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
	}
	return err
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobReleaseFunds, s.isJobEnabled(JobReleaseFunds), func(ctx context.Context) error {
			return s.runJob(ctx, JobReleaseFunds, s.cfg.ReleaseBatchSize, s.cfg.JobTimeout, s.ReleaseFundsJob)
		}},
		{JobFeeBackfill, s.isJobEnabled(JobFeeBackfill) && s.backfillDue(), func(ctx context.Context) error {
			return s.runJob(ctx, JobFeeBackfill, s.cfg.BackfillBatchSize, s.cfg.JobTimeout, s.FeeBackfillJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// backfillDue gates the fee backfill to its own, slower cadence.
func (s *Scheduler) backfillDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.lastBackfill.IsZero() && now.Sub(s.lastBackfill) < s.cfg.BackfillInterval {
		return false
	}
	s.lastBackfill = now
	return true
}

// ReleaseFundsJob moves pending credits whose release date has passed into
// the available bucket.
func (s *Scheduler) ReleaseFundsJob(ctx context.Context) error {
	ctx, r, owner := s.beginRun(ctx, JobReleaseFunds, s.cfg.ReleaseBatchSize)
	if owner {
		defer func() { r.finish(s.clock.Now()) }()
	}

	result, err := s.settlementSvc.ReleaseDue(ctx, s.clock.Now(), s.cfg.ReleaseBatchSize)
	if err != nil {
		r.fail("scheduler.release.failed", err)
		return err
	}

	r.processed += result.Released
	s.metrics.AddBatchProcessed(JobReleaseFunds, "virtual_transactions", result.Released)
	s.metrics.AddBatchProcessed(JobReleaseFunds, "sale_installments", int(result.InstallmentsConfirmed))
	if result.Released > 0 {
		r.log.Info("scheduler.release.done",
			zap.Int("released", result.Released),
			zap.Int64("released_cents", result.ReleasedCents),
			zap.Int("accounts", result.Accounts),
			zap.Int64("installments_confirmed", result.InstallmentsConfirmed),
		)
	}
	return nil
}

// FeeBackfillJob asks gateways for fees that were not known when their sale
// settled.
func (s *Scheduler) FeeBackfillJob(ctx context.Context) error {
	ctx, r, owner := s.beginRun(ctx, JobFeeBackfill, s.cfg.BackfillBatchSize)
	if owner {
		defer func() { r.finish(s.clock.Now()) }()
	}

	result, err := s.settlementSvc.BackfillFees(ctx, s.cfg.BackfillBatchSize)
	if err != nil {
		r.fail("scheduler.backfill.failed", err)
		return err
	}

	r.processed += result.Resolved
	r.failed += result.Failed
	s.metrics.AddBatchProcessed(JobFeeBackfill, "sales", result.Resolved)
	if result.Scanned > 0 {
		r.log.Info("scheduler.backfill.done",
			zap.Int("scanned", result.Scanned),
			zap.Int("resolved", result.Resolved),
			zap.Int("pending", result.Pending),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}
