// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	DatabaseURL string        `env:"DATABASE_URL,required,notEmpty"`
	Port        string        `env:"PORT" envDefault:"8080"`
	JWTSecret   string        `env:"JWT_SECRET,required,notEmpty"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	CORSOrigins []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"60s"`

	TradeTimeout time.Duration `env:"TRADE_TIMEOUT" envDefault:"10s"`
	LockTimeout  time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns   int32         `env:"DB_MIN_CONNS" envDefault:"2"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"trades.executed"`

	TradeRatePerSec float64 `env:"TRADE_RATE_PER_SEC" envDefault:"5"`
	TradeBurst      int     `env:"TRADE_BURST" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TradeRatePerSec < 0 || c.TradeBurst < 0 {
		return fmt.Errorf("trade rate limits must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the zap logger described by LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.LogFormat, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
