package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/splitledger/internal/observability/context"
	obslogger "github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// run is one pass of a job. It rides the context so a job invoked through
// runJob and a job invoked directly by a test both log exactly one start and
// one finish line.
type run struct {
	job       string
	id        string
	batch     int
	started   time.Time
	processed int
	failed    int
	log       *zap.Logger
}

type runKey struct{}

// beginRun returns the run already attached to ctx, or starts one. owner is
// true for the caller that started it and must call finish.
func (s *Scheduler) beginRun(ctx context.Context, job string, batch int) (context.Context, *run, bool) {
	if r, ok := ctx.Value(runKey{}).(*run); ok && r != nil {
		return ctx, r, false
	}
	r := &run{
		job:     job,
		id:      s.genID.Generate().String(),
		batch:   batch,
		started: s.clock.Now(),
	}
	ctx = obscontext.WithActor(context.WithValue(ctx, runKey{}, r), "system", "scheduler")
	r.log = obslogger.WithContext(ctx, s.log).With(zap.String("job", job), zap.String("run_id", r.id))
	r.log.Info("scheduler.job.start", zap.Int("batch_size", batch))
	return ctx, r, true
}

func (r *run) finish(now time.Time) {
	fields := []zap.Field{
		zap.Int64("duration_ms", now.Sub(r.started).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.failed),
	}
	if r.failed > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

// fail counts err against the run and logs it with its retry classification.
func (r *run) fail(msg string, err error) {
	r.failed++
	r.log.Error(msg,
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
