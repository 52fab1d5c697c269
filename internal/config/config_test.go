package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/papertrade")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 60*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.TradeTimeout)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, "trades.executed", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 5.0, cfg.TradeRatePerSec)
	assert.Equal(t, 10, cfg.TradeBurst)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{"JWT_SECRET": "secret"},
			wantErr: true,
		},
		{
			name:    "MissingJWTSecret",
			env:     map[string]string{"DATABASE_URL": "postgres://localhost/db"},
			wantErr: true,
		},
		{
			name: "ListsAndOverrides",
			env: map[string]string{
				"DATABASE_URL":  "postgres://localhost/db",
				"JWT_SECRET":    "secret",
				"KAFKA_BROKERS": "k1:9092,k2:9092",
				"CORS_ORIGINS":  "https://a.example,https://b.example",
				"LOCK_TIMEOUT":  "250ms",
				"LOG_FORMAT":    "console",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
				assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
			},
		},
		{
			name: "BadLogFormat",
			env: map[string]string{
				"DATABASE_URL": "postgres://localhost/db",
				"JWT_SECRET":   "secret",
				"LOG_FORMAT":   "xml",
			},
			wantErr: true,
		},
		{
			name: "MinConnsAboveMax",
			env: map[string]string{
				"DATABASE_URL": "postgres://localhost/db",
				"JWT_SECRET":   "secret",
				"DB_MAX_CONNS": "2",
				"DB_MIN_CONNS": "5",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"DATABASE_URL", "JWT_SECRET"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	logger, err := Config{LogLevel: "debug", LogFormat: "json"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = Config{LogLevel: "warn", LogFormat: "console"}.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = Config{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
}
