package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

type (
	Config struct {
		App      `json:"app"      toml:"app"`
		HTTP     `json:"http"     toml:"http"`
		DB       `json:"db"       toml:"db"`
		Log      `json:"logger"   toml:"logger"`
		Pricing  `json:"pricing"  toml:"pricing"`
		Grouping `json:"grouping" toml:"grouping"`
		Rates    `json:"rates"    toml:"rates"`
		Kafka    `json:"kafka"    toml:"kafka"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-required:"true"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	// Pricing values are decimal strings so no float ever touches a spread.
	Pricing struct {
		UserSpreadPercent     string `json:"user_spread_percent"     toml:"user_spread_percent"     env:"PRICING_USER_SPREAD_PERCENT"     env-default:"1"`
		MerchantSpreadPercent string `json:"merchant_spread_percent" toml:"merchant_spread_percent" env:"PRICING_MERCHANT_SPREAD_PERCENT" env-default:"1"`
		DustFloor             string `json:"dust_floor"              toml:"dust_floor"              env:"PRICING_DUST_FLOOR"              env-default:"0.0001"`
		PlatformZecAddress    string `json:"platform_zec_address"    toml:"platform_zec_address"    env:"PRICING_PLATFORM_ZEC_ADDRESS"`
	}

	Grouping struct {
		WindowSeconds        int `json:"window_seconds"         toml:"window_seconds"         env:"GROUPING_WINDOW_SECONDS"         env-default:"10"`
		SweepIntervalSeconds int `json:"sweep_interval_seconds" toml:"sweep_interval_seconds" env:"GROUPING_SWEEP_INTERVAL_SECONDS" env-default:"2"`
		SweepBatchSize       int `json:"sweep_batch_size"       toml:"sweep_batch_size"       env:"GROUPING_SWEEP_BATCH_SIZE"       env-default:"100"`
	}

	Rates struct {
		Provider       string            `json:"provider"        toml:"provider"        env:"RATES_PROVIDER"        env-default:"static"`
		URL            string            `json:"url"             toml:"url"             env:"RATES_URL"`
		Static         map[string]string `json:"static"          toml:"static"          env:"RATES_STATIC"`
		TimeoutSeconds int               `json:"timeout_seconds" toml:"timeout_seconds" env:"RATES_TIMEOUT_SECONDS" env-default:"5"`
	}

	// Kafka publishing is disabled when Brokers is empty.
	Kafka struct {
		Brokers []string `json:"brokers" toml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `json:"topic"   toml:"topic"   env:"KAFKA_TOPIC"   env-default:"zapp.order-events"`
	}
)

func LoadConfig() (*Config, error) {
	_, b, _, _ := runtime.Caller(0)
	return LoadConfigFrom(filepath.Dir(b))
}

// LoadConfigFrom reads config.toml, or config.json, from dir and then overlays the environment.
func LoadConfigFrom(dir string) (*Config, error) {
	cfg := &Config{}

	configTomlPath := filepath.Join(dir, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(dir, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, _, _, err := c.Pricing.Decimals(); err != nil {
		return err
	}
	switch c.Rates.Provider {
	case "static":
	case "http":
		if c.Rates.URL == "" {
			return fmt.Errorf("rates.url is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown rates provider %q", c.Rates.Provider)
	}
	if c.Grouping.WindowSeconds <= 0 || c.Grouping.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("grouping window and sweep interval must be positive")
	}
	return nil
}

// Decimals parses the spreads and the dust floor.
func (p Pricing) Decimals() (userSpread, merchantSpread, dustFloor decimal.Decimal, err error) {
	if userSpread, err = decimal.NewFromString(p.UserSpreadPercent); err != nil {
		return userSpread, merchantSpread, dustFloor, fmt.Errorf("pricing.user_spread_percent: %w", err)
	}
	if merchantSpread, err = decimal.NewFromString(p.MerchantSpreadPercent); err != nil {
		return userSpread, merchantSpread, dustFloor, fmt.Errorf("pricing.merchant_spread_percent: %w", err)
	}
	if dustFloor, err = decimal.NewFromString(p.DustFloor); err != nil {
		return userSpread, merchantSpread, dustFloor, fmt.Errorf("pricing.dust_floor: %w", err)
	}
	return userSpread, merchantSpread, dustFloor, nil
}

func (g Grouping) Window() time.Duration {
	return time.Duration(g.WindowSeconds) * time.Second
}

func (g Grouping) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalSeconds) * time.Second
}

func (r Rates) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}
