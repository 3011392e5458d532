package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"greencycle-platform/pkg/config"
	"greencycle-platform/pkg/db"
	"greencycle-platform/pkg/logger"
	"greencycle-platform/pkg/redis"
	"greencycle-platform/pkg/task"
	"greencycle-platform/pkg/taskname"
	"greencycle-platform/services/ledger"
	"greencycle-platform/services/reporting"
)

const defaultRefreshInterval = 5 * time.Minute

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		fx.Provide(provideSnowflakeNode),
		ledger.Module,
		reporting.Module,
		task.Client,
		task.Server,
		fx.Invoke(
			reporting.RegisterTaskHandlers,
			runReportingScheduler,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

// runReportingScheduler enqueues the reporting cache tasks on a fixed
// interval for the worker pool to pick up.
func runReportingScheduler(lc fx.Lifecycle, cfg *config.Config, enqueuer task.Enqueuer) {
	interval := cfg.Points.LeaderboardRefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					select {
					case <-ticker.C:
						for _, name := range []string{taskname.LeaderboardRefresh, taskname.CenterSummaryWarm} {
							if _, err := enqueuer.Enqueue(asynq.NewTask(name, nil)); err != nil {
								zap.L().Error("failed to enqueue reporting task", zap.String("task", name), zap.Error(err))
							}
						}
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}
