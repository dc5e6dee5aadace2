package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	postgres_wrapper "github.com/joripage/matchcore/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/matchcore/pkg/infra/redis"
	"github.com/joripage/matchcore/pkg/instrument"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	LogLevel    string                           `yaml:"log_level"`
	Engine      EngineConfig                     `yaml:"engine"`
	Fix         *FixConfig                       `yaml:"fix"`
	Kafka       *KafkaConfig                     `yaml:"kafka"`
	Redis       *redis_wrapper.RedisConfig       `yaml:"redis"`
	OmsDB       *postgres_wrapper.PostgresConfig `yaml:"oms_db"`
}

type EngineConfig struct {
	WorkerConcurrency   int                `yaml:"worker_concurrency"`
	QueueSize           int                `yaml:"queue_size"`
	MaxBasketLegs       int                `yaml:"max_basket_legs"`
	AutoRegisterSymbols *bool              `yaml:"auto_register_symbols"`
	TickSizeFile        string             `yaml:"tick_size_file"`
	Instruments         []InstrumentConfig `yaml:"instruments"`
	Composites          []CompositeConfig  `yaml:"composites"`
}

type InstrumentConfig struct {
	Symbol string `yaml:"symbol"`
	// optional initial reference price
	Price string `yaml:"price"`
}

func (c InstrumentConfig) InitialPrice() (decimal.NullDecimal, error) {
	if c.Price == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(c.Price)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

type CompositeConfig struct {
	Symbol       string   `yaml:"symbol"`
	Constituents []string `yaml:"constituents"`
}

type FixConfig struct {
	ConfigFilepath   string `yaml:"config_filepath"`
	EnableShardQueue bool   `yaml:"enable_shard_queue"`
}

type KafkaConfig struct {
	Producer    kafkawrapper.ProducerConfig  `yaml:"producer"`
	TradeTopic  string                       `yaml:"trade_topic"`
	PriceFeed   *kafkawrapper.ConsumerConfig `yaml:"price_feed"`
	TradeWorker *kafkawrapper.ConsumerConfig `yaml:"trade_worker"`
}

const (
	defaultServiceName = "matchcore"
	defaultConcurrency = 16
	defaultQueueSize   = 100_000
	defaultTradeTopic  = "matchcore.trades"
)

var errInvalidConfig = errors.New("invalid config")

// AutoRegister reports whether unknown symbols are registered on first use.
func (c EngineConfig) AutoRegister() bool {
	return c.AutoRegisterSymbols == nil || *c.AutoRegisterSymbols
}

// Load load config from file and environment variables. A .env file next to
// the working directory, if any, is loaded first so the YAML can reference
// its variables.
func Load(filePath string) (*AppConfig, error) {
	_ = godotenv.Load()

	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}

	cfg, err := Parse(configBytes)
	if err != nil {
		sugar.Errorf("Failed to parse config file: %v", err)
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)
	return cfg, nil
}

// Parse expands environment variables in data, decodes it, applies
// defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Engine.WorkerConcurrency <= 0 {
		c.Engine.WorkerConcurrency = defaultConcurrency
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = defaultQueueSize
	}
	if c.Engine.MaxBasketLegs == 0 {
		c.Engine.MaxBasketLegs = instrument.MaxConstituents
	}
	if k := c.Kafka; k != nil {
		if k.TradeTopic == "" {
			k.TradeTopic = defaultTradeTopic
		}
		for _, cc := range []*kafkawrapper.ConsumerConfig{k.PriceFeed, k.TradeWorker} {
			if cc != nil && len(cc.Brokers) == 0 {
				cc.Brokers = k.Producer.Brokers
			}
		}
		if k.TradeWorker != nil && k.TradeWorker.Topic == "" {
			k.TradeWorker.Topic = k.TradeTopic
		}
	}
}

func (c *AppConfig) Validate() error {
	if c.Engine.MaxBasketLegs != instrument.MaxConstituents {
		return fmt.Errorf("%w: max_basket_legs is fixed at %d", errInvalidConfig, instrument.MaxConstituents)
	}

	seen := make(map[string]bool)
	for _, in := range c.Engine.Instruments {
		if in.Symbol == "" {
			return fmt.Errorf("%w: instrument without symbol", errInvalidConfig)
		}
		if seen[in.Symbol] {
			return fmt.Errorf("%w: duplicate symbol %s", errInvalidConfig, in.Symbol)
		}
		price, err := in.InitialPrice()
		if err != nil {
			return fmt.Errorf("%w: %s price: %w", errInvalidConfig, in.Symbol, err)
		}
		if price.Valid && !price.Decimal.IsPositive() {
			return fmt.Errorf("%w: %s price must be positive", errInvalidConfig, in.Symbol)
		}
		seen[in.Symbol] = true
	}
	for _, cc := range c.Engine.Composites {
		if cc.Symbol == "" {
			return fmt.Errorf("%w: composite without symbol", errInvalidConfig)
		}
		if seen[cc.Symbol] {
			return fmt.Errorf("%w: duplicate symbol %s", errInvalidConfig, cc.Symbol)
		}
		if len(cc.Constituents) == 0 || len(cc.Constituents) > instrument.MaxConstituents {
			return fmt.Errorf("%w: composite %s needs 1 to %d constituents", errInvalidConfig, cc.Symbol, instrument.MaxConstituents)
		}
		seen[cc.Symbol] = true
	}

	if c.Fix != nil && c.Fix.ConfigFilepath == "" {
		return fmt.Errorf("%w: fix.config_filepath is required", errInvalidConfig)
	}
	if k := c.Kafka; k != nil {
		if len(k.Producer.Brokers) == 0 && k.PriceFeed == nil && k.TradeWorker == nil {
			return fmt.Errorf("%w: kafka has no brokers", errInvalidConfig)
		}
		for name, cc := range map[string]*kafkawrapper.ConsumerConfig{"price_feed": k.PriceFeed, "trade_worker": k.TradeWorker} {
			if cc != nil && (len(cc.Brokers) == 0 || cc.Topic == "") {
				return fmt.Errorf("%w: kafka.%s needs brokers and topic", errInvalidConfig, name)
			}
		}
	}
	return nil
}
