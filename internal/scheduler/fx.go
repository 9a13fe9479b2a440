package scheduler

import (
	"context"

	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(func(d *dispatch.Dispatcher) Dispatcher { return d }),
	fx.Provide(New),
)

// RunnerModule starts the run loop with the application and stops it on
// shutdown. The one-shot command leaves it out.
var RunnerModule = fx.Module("scheduler.runner",
	fx.Invoke(StartRunner),
)

func StartRunner(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
