package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joripage/matchcore/config"
	"github.com/joripage/matchcore/pkg/infra"
	postgres_wrapper "github.com/joripage/matchcore/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/oms/repo"
	"github.com/joripage/matchcore/pkg/oms/worker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var configFile, migrationSource string
	var migrateFirst bool
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.BoolVar(&migrateFirst, "migrate", false, "Apply migrations before consuming")
	flag.StringVar(&migrationSource, "migration-source", "file://migration/sql", "Migration source")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.OmsDB == nil || cfg.Kafka == nil || cfg.Kafka.TradeWorker == nil {
		panic("worker needs oms_db and kafka.trade_worker")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(level).Named(cfg.ServiceName + "-worker")
	defer logger.Sync() // nolint
	undo := zap.ReplaceGlobals(logger.Zap())
	defer undo()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// init db
	var db *gorm.DB
	if migrateFirst {
		db, err = infra.GetMigrateTool().ConnectAndMigrate(cfg.OmsDB, migrationSource)
	} else {
		db, err = postgres_wrapper.InitPostgresWithBackoff(cfg.OmsDB)
	}
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	consumerCfg := *cfg.Kafka.TradeWorker
	consumer, err := kafkawrapper.NewConsumerGroup(consumerCfg, logger.Zap())
	if err != nil {
		zap.S().Errorf("init consumer fail with err: %v", err)
		panic(err)
	}
	defer consumer.Close()

	w := worker.NewWorker(repo.NewRepo(db), logger)
	logger.Info(ctx, "trade worker started", zap.String("topic", consumerCfg.Topic))
	if err := w.Start(ctx, consumer); err != nil && ctx.Err() == nil {
		logger.Error(ctx, "trade worker stopped", zap.Error(err))
	}
}
