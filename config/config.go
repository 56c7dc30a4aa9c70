package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the service configuration
type Config struct {
	Environment string        `mapstructure:"environment"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Database    DBConfig      `mapstructure:"database"`
	Market      MarketConfig  `mapstructure:"market"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
	Journal     JournalConfig `mapstructure:"journal"`
	Log         LogConfig     `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// MarketConfig holds the engine parameters fixed at deployment
type MarketConfig struct {
	// EngineAddress is the custody account. Derived from EngineLabel when empty.
	EngineAddress      string        `mapstructure:"engine_address"`
	EngineLabel        string        `mapstructure:"engine_label"`
	TradeCurrency      string        `mapstructure:"trade_currency"`
	Tokens             []string      `mapstructure:"tokens"`
	Treasury           string        `mapstructure:"treasury"`
	FeePercent         int64         `mapstructure:"fee_percent"`
	TokenAmountPerUnit int64         `mapstructure:"token_amount_per_unit"`
	UnitsPerOption     int64         `mapstructure:"units_per_option"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	// Faucet enables the mint endpoint. Never enable outside development.
	Faucet bool `mapstructure:"faucet"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads .env when present and overlays environment variables on the defaults.
// Keys map to variables with the OPTIONS_ prefix, e.g. market.fee_percent is OPTIONS_MARKET_FEE_PERCENT.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	// AutomaticEnv only resolves keys viper already knows; the defaults register them all
	setDefaults(v)

	v.SetEnvPrefix("OPTIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Market.Tokens = splitList(cfg.Market.Tokens)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Market.TradeCurrency == "" {
		return fmt.Errorf("market.trade_currency is required")
	}
	if c.Market.EngineAddress == "" && c.Market.EngineLabel == "" {
		return fmt.Errorf("market.engine_address or market.engine_label is required")
	}
	if c.Market.FeePercent < 0 || c.Market.FeePercent > 100 {
		return fmt.Errorf("invalid market.fee_percent: %d", c.Market.FeePercent)
	}
	if c.Market.TokenAmountPerUnit <= 0 || c.Market.UnitsPerOption <= 0 {
		return fmt.Errorf("market unit sizes must be positive")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		return fmt.Errorf("journal.dir is required when the journal is enabled")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// AllTokens returns every token the engine settles in, trade currency first, without duplicates
func (m MarketConfig) AllTokens() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(m.Tokens)+1)
	for _, t := range append([]string{m.TradeCurrency}, m.Tokens...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)

	v.SetDefault("database.path", "./data/market.db")

	v.SetDefault("market.engine_address", "")
	v.SetDefault("market.engine_label", "options-market")
	v.SetDefault("market.trade_currency", "")
	v.SetDefault("market.tokens", []string{})
	v.SetDefault("market.treasury", "")
	v.SetDefault("market.fee_percent", 3)
	v.SetDefault("market.token_amount_per_unit", 1)
	v.SetDefault("market.units_per_option", 1)
	v.SetDefault("market.sweep_interval", 30*time.Second)
	v.SetDefault("market.faucet", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "options-market.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100*time.Millisecond)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dir", "./data/journal")

	v.SetDefault("log.level", "info")
}

// splitList accepts both list values and a single comma separated environment value
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
