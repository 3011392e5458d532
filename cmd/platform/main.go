package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"greencycle-platform/internal/httpapi"
	"greencycle-platform/internal/server"
	"greencycle-platform/pkg/config"
	"greencycle-platform/pkg/db"
	"greencycle-platform/pkg/logger"
	"greencycle-platform/pkg/redis"
	"greencycle-platform/pkg/sequence"
	"greencycle-platform/pkg/settings"
	"greencycle-platform/services/award"
	"greencycle-platform/services/ledger"
	"greencycle-platform/services/reporting"
	"greencycle-platform/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		settings.Module,
		fx.Provide(provideSnowflakeNode),
		ledger.Module,
		award.Module,
		reward.Module,
		reporting.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
