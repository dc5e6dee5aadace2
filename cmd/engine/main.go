package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joripage/matchcore/config"
	redis_wrapper "github.com/joripage/matchcore/pkg/infra/redis"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/oms"
	fixgateway "github.com/joripage/matchcore/pkg/oms/fix"
	"github.com/joripage/matchcore/pkg/oms/pricefeed"
	"github.com/joripage/matchcore/pkg/oms/rule"
	"github.com/joripage/matchcore/pkg/oms/tradeexport"
	"go.uber.org/zap"
)

func main() {
	var configFile, pprofAddr string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&pprofAddr, "pprof", "", "Serve pprof on this address, e.g. localhost:6060")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(level).Named(cfg.ServiceName)
	defer logger.Sync() // nolint
	undo := zap.ReplaceGlobals(logger.Zap())
	defer undo()

	if pprofAddr != "" {
		go func() {
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				zap.S().Warnf("pprof server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.NewRequestContext(ctx)

	engine := oms.NewOMS(&oms.Config{
		WorkerConcurrency:   cfg.Engine.WorkerConcurrency,
		QueueSize:           cfg.Engine.QueueSize,
		AutoRegisterSymbols: cfg.Engine.AutoRegister(),
	}, logger.Zap())
	defer engine.Stop()

	if cfg.Engine.TickSizeFile != "" {
		tick, err := rule.NewTickSizeRuleFromFile(cfg.Engine.TickSizeFile)
		if err != nil {
			logger.Fatal(ctx, "load tick size table", zap.Error(err))
		}
		engine.AddRules(tick)
	}

	registerInstruments(ctx, engine, cfg, logger)

	if cfg.Fix != nil {
		gw := fixgateway.NewFixGateway(&fixgateway.FixGatewayConfig{
			ConfigFilepath: cfg.Fix.ConfigFilepath,
			App: fixgateway.AppConfig{
				EnableQueue:      !cfg.Fix.EnableShardQueue,
				EnableShardQueue: cfg.Fix.EnableShardQueue,
			},
		}, logger.Zap().Named("fix"))
		gw.AddOmsInstance(engine)
		engine.SetOrderGateway(gw)
	}

	if cfg.Redis != nil {
		client, err := redis_wrapper.InitRedisWithBackoff(cfg.Redis)
		if err != nil {
			logger.Fatal(ctx, "connect redis", zap.Error(err))
		}
		defer client.Close()
		cache := redis_wrapper.NewPriceCache(client, cfg.Redis.KeyPrefix, logger.Zap().Named("price_cache"))
		cache.Attach(engine.Registry())
		go cache.Run(ctx)
	}

	if cfg.Kafka != nil {
		if len(cfg.Kafka.Producer.Brokers) > 0 {
			producer := kafkawrapper.NewProducer(cfg.Kafka.Producer)
			defer producer.Close()

			engineID := uuid.NewString()
			exporter := tradeexport.NewExporter(tradeexport.Config{
				Topic:    cfg.Kafka.TradeTopic,
				EngineID: engineID,
			}, producer, logger.Zap().Named("trade_export"))
			go exporter.Run(ctx, engine)
			logger.Info(ctx, "exporting trades", zap.String("topic", cfg.Kafka.TradeTopic), zap.String("engine_id", engineID))
		}

		if cfg.Kafka.PriceFeed != nil {
			consumer, err := kafkawrapper.NewConsumerGroup(*cfg.Kafka.PriceFeed, logger.Zap().Named("price_feed"))
			if err != nil {
				logger.Fatal(ctx, "price feed consumer", zap.Error(err))
			}
			defer consumer.Close()
			handler := pricefeed.NewHandler(engine, logger.Named("price_feed"))
			go func() {
				if err := consumer.Run(ctx, handler.HandleBatch); err != nil && ctx.Err() == nil {
					logger.Error(ctx, "price feed stopped", zap.Error(err))
				}
			}()
		}
	}

	if err := engine.Start(ctx); err != nil {
		logger.Fatal(ctx, "start engine", zap.Error(err))
	}
	logger.Info(ctx, "engine started")

	<-ctx.Done()
	logger.Info(context.WithoutCancel(ctx), "shutting down")
}

func registerInstruments(ctx context.Context, engine *oms.OMS, cfg *config.AppConfig, logger *logging.Logger) {
	for _, in := range cfg.Engine.Instruments {
		price, err := in.InitialPrice()
		if err == nil {
			err = engine.RegisterInstrument(in.Symbol, price)
		}
		if err != nil {
			logger.Fatal(ctx, "register instrument", zap.String("symbol", in.Symbol), zap.Error(err))
		}
	}
	for _, c := range cfg.Engine.Composites {
		if err := engine.RegisterComposite(c.Symbol, c.Constituents); err != nil {
			logger.Fatal(ctx, "register composite", zap.String("symbol", c.Symbol), zap.Error(err))
		}
	}
	if n := len(cfg.Engine.Instruments) + len(cfg.Engine.Composites); n > 0 {
		logger.Info(ctx, "instruments registered", zap.Int("count", n))
	}
}
