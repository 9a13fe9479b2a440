package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/audit"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification"
	"github.com/smallbiznis/notifier/internal/observability"
	"github.com/smallbiznis/notifier/internal/providers/email"
	"github.com/smallbiznis/notifier/internal/ratelimit"
	"github.com/smallbiznis/notifier/internal/scheduler"
	"github.com/smallbiznis/notifier/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// infraModules is what every command needs to reach the database.
func infraModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// schedulerModules wires everything a run needs on top of infraModules.
func schedulerModules() fx.Option {
	return fx.Options(
		infraModules(),
		ratelimit.Module,
		email.Module,
		audit.Module,
		notification.Module,
		scheduler.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// runApp starts app, hands control to fn and always stops app afterwards.
func runApp(ctx context.Context, app *fx.App, fn func(context.Context) error) error {
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	fnErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
