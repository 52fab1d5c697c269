package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// Numeric columns are read as text so no precision is lost on the way to
// decimal.Decimal.
const coinColumns = `c.id, c.symbol, c.name, COALESCE(c.image, ''),
	c.current_price::text, c.high_24h::text, c.low_24h::text,
	c.price_change_24h::text, c.price_change_percentage_24h::text,
	c.market_cap, c.market_cap_rank, c.total_volume, c.last_updated`

func scanCoin(row pgx.Row, extra ...any) (*models.Coin, error) {
	var (
		coin                           models.Coin
		price, high, low, chg, chgPerc *string
	)
	dest := []any{
		&coin.ID, &coin.Symbol, &coin.Name, &coin.Image,
		&price, &high, &low, &chg, &chgPerc,
		&coin.MarketCap, &coin.MarketCapRank, &coin.TotalVolume, &coin.LastUpdated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	for _, f := range []struct {
		src *string
		dst *decimal.NullDecimal
	}{
		{price, &coin.CurrentPrice},
		{high, &coin.High24h},
		{low, &coin.Low24h},
		{chg, &coin.PriceChange24h},
		{chgPerc, &coin.PriceChangePercentage24h},
	} {
		if *f.dst, err = parseNullDecimal(f.src); err != nil {
			return nil, fmt.Errorf("coin %s: %w", coin.ID, err)
		}
	}
	return &coin, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse numeric %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// UpsertCoin inserts or refreshes a coin's market data
func (db *DB) UpsertCoin(ctx context.Context, coin models.Coin) error {
	var image *string
	if coin.Image != "" {
		image = &coin.Image
	}
	lastUpdated := coin.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = timeNow()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO coins (id, symbol, name, image, current_price, high_24h, low_24h,
			price_change_24h, price_change_percentage_24h, market_cap, market_cap_rank,
			total_volume, last_updated)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			current_price = EXCLUDED.current_price,
			high_24h = EXCLUDED.high_24h,
			low_24h = EXCLUDED.low_24h,
			price_change_24h = EXCLUDED.price_change_24h,
			price_change_percentage_24h = EXCLUDED.price_change_percentage_24h,
			market_cap = EXCLUDED.market_cap,
			market_cap_rank = EXCLUDED.market_cap_rank,
			total_volume = EXCLUDED.total_volume,
			last_updated = EXCLUDED.last_updated,
			updated_at = NOW()`,
		coin.ID, coin.Symbol, coin.Name, image,
		nullDecimalArg(coin.CurrentPrice), nullDecimalArg(coin.High24h), nullDecimalArg(coin.Low24h),
		nullDecimalArg(coin.PriceChange24h), nullDecimalArg(coin.PriceChangePercentage24h),
		coin.MarketCap, coin.MarketCapRank, coin.TotalVolume, lastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert coin: %w", err)
	}
	return nil
}

// GetCoin retrieves a coin by id
func (db *DB) GetCoin(ctx context.Context, coinID string) (*models.Coin, error) {
	coin, err := scanCoin(db.Pool.QueryRow(ctx,
		"SELECT "+coinColumns+" FROM coins c WHERE c.id = $1", coinID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("coin %s: %w", coinID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get coin: %w", err)
	}
	return coin, nil
}

// ListCoins retrieves every coin ordered by market cap rank, unranked last
func (db *DB) ListCoins(ctx context.Context) ([]models.Coin, error) {
	return db.queryCoins(ctx,
		"SELECT "+coinColumns+" FROM coins c ORDER BY c.market_cap_rank ASC NULLS LAST, c.id ASC")
}

// TopCoins retrieves the coins ranked 1..n
func (db *DB) TopCoins(ctx context.Context, n int) ([]models.Coin, error) {
	return db.queryCoins(ctx,
		"SELECT "+coinColumns+" FROM coins c WHERE c.market_cap_rank BETWEEN 1 AND $1 ORDER BY c.market_cap_rank ASC, c.id ASC",
		n)
}

func (db *DB) queryCoins(ctx context.Context, query string, args ...any) ([]models.Coin, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get coins: %w", err)
	}
	defer rows.Close()

	coins := []models.Coin{}
	for rows.Next() {
		coin, err := scanCoin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coin: %w", err)
		}
		coins = append(coins, *coin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get coins: %w", err)
	}
	return coins, nil
}
