package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

type seedConfig struct {
	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	DemoEmail    string `env:"SEED_DEMO_EMAIL" envDefault:"demo@example.com"`
	DemoPassword string `env:"SEED_DEMO_PASSWORD" envDefault:"demo1234"`
	DemoTrades   bool   `env:"SEED_DEMO_TRADES" envDefault:"true"`
}

type fixtureCoin struct {
	id, symbol, name, price string
	rank                    int
	marketCap               int64
}

// Prices are a fixed snapshot; the live feed overwrites them.
var fixtureCoins = []fixtureCoin{
	{"bitcoin", "btc", "Bitcoin", "9650000", 1, 191000000000000},
	{"ethereum", "eth", "Ethereum", "372000", 2, 44800000000000},
	{"tether", "usdt", "Tether", "150.12", 3, 17600000000000},
	{"binancecoin", "bnb", "BNB", "89000", 4, 12900000000000},
	{"solana", "sol", "Solana", "21500", 5, 10200000000000},
	{"ripple", "xrp", "XRP", "88.4", 6, 4900000000000},
	{"usd-coin", "usdc", "USDC", "150.05", 7, 5200000000000},
	{"cardano", "ada", "Cardano", "58.7", 8, 2100000000000},
	{"dogecoin", "doge", "Dogecoin", "18.31", 9, 2600000000000},
	{"tron", "trx", "TRON", "19.9", 10, 1700000000000},
	{"avalanche-2", "avax", "Avalanche", "3900", 11, 1500000000000},
}

// Seed the database with coins, a demo user and a few trades
func main() {
	var cfg seedConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := seed(context.Background(), cfg, logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
}

func seed(ctx context.Context, cfg seedConfig, logger *zap.Logger) error {
	database, err := db.NewDB(ctx, db.Config{URL: cfg.DatabaseURL, MaxConns: 4})
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := database.Migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Strings("files", applied))

	now := time.Now().UTC()
	for _, f := range fixtureCoins {
		rank, marketCap := f.rank, f.marketCap
		coin := models.Coin{
			ID:            f.id,
			Symbol:        f.symbol,
			Name:          f.name,
			CurrentPrice:  decimal.NewNullDecimal(decimal.RequireFromString(f.price)),
			MarketCap:     &marketCap,
			MarketCapRank: &rank,
			LastUpdated:   now,
		}
		if err := database.UpsertCoin(ctx, coin); err != nil {
			return err
		}
	}
	logger.Info("coins upserted", zap.Int("count", len(fixtureCoins)))

	user, err := demoUser(ctx, database, cfg)
	if err != nil {
		return err
	}
	logger.Info("demo user ready", zap.Int("user_id", user.ID), zap.String("email", user.Email))

	if !cfg.DemoTrades {
		return nil
	}
	count, err := database.CountTrades(ctx, user.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("demo user already has trades, skipping", zap.Int("trades", count))
		return nil
	}

	engine := exchange.NewEngine(database, database, logger)
	trades := []struct {
		side     models.TradeType
		coinID   string
		quantity string
	}{
		{models.TradeBuy, "bitcoin", "0.01"},
		{models.TradeBuy, "ethereum", "0.5"},
		{models.TradeBuy, "solana", "3"},
		{models.TradeSell, "ethereum", "0.2"},
	}
	for _, t := range trades {
		q := decimal.RequireFromString(t.quantity)
		var err error
		if t.side == models.TradeBuy {
			_, err = engine.Buy(ctx, user.ID, t.coinID, q)
		} else {
			_, err = engine.Sell(ctx, user.ID, t.coinID, q)
		}
		if err != nil {
			return err
		}
	}
	logger.Info("demo trades executed", zap.Int("count", len(trades)))
	return nil
}

func demoUser(ctx context.Context, database *db.DB, cfg seedConfig) (*models.User, error) {
	user, err := database.GetUserByEmail(ctx, cfg.DemoEmail)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return database.CreateUser(ctx, cfg.DemoEmail, "demo", string(hash), models.DefaultCashBalance)
}
