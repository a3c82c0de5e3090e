package scheduler

import (
	"context"

	"github.com/smallbiznis/splitledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module runs the release and fee backfill loop for the lifetime of the app
// when SCHEDULER_ENABLED is set.
var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig, New),
	fx.Invoke(startLoop),
)

func startLoop(lc fx.Lifecycle, cfg config.Config, sched *Scheduler, log *zap.Logger) {
	if !cfg.SchedulerEnabled {
		log.Info("scheduler disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.StartStopHook(
		func() {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
		},
		func(stop context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stop.Done():
				return stop.Err()
			}
		},
	))
}
