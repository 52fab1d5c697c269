package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

// WithUserLedger runs fn in a transaction holding the user's bank_balance
// row FOR UPDATE. Wallet rows are locked afterwards through the tx, so every
// trade takes the same lock order.
func (db *DB) WithUserLedger(ctx context.Context, userID int, fn func(tx exchange.LedgerTx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if db.lockTimeout > 0 {
		_, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)",
			fmt.Sprintf("%dms", db.lockTimeout.Milliseconds()))
		if err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	var raw string
	err = tx.QueryRow(ctx,
		"SELECT cash_balance::text FROM bank_balance WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("user %d: %w", userID, exchange.ErrMissingLedgerState)
		}
		return lockError(err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("failed to parse cash balance: %w", err)
	}

	if err := fn(&ledgerTx{tx: tx, userID: userID, balance: balance}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func lockError(err error) error {
	if pgCode(err) == codeLockNotAvailable {
		return fmt.Errorf("timed out waiting for ledger lock: %w", err)
	}
	return classify(fmt.Errorf("failed to lock ledger: %w", err))
}

type ledgerTx struct {
	tx      pgx.Tx
	userID  int
	balance decimal.Decimal
}

func (l *ledgerTx) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	return l.balance, nil
}

func (l *ledgerTx) SetCashBalance(ctx context.Context, balance decimal.Decimal) error {
	_, err := l.tx.Exec(ctx,
		"UPDATE bank_balance SET cash_balance = $1::numeric, last_updated_at = NOW() WHERE user_id = $2",
		balance.String(), l.userID)
	if err != nil {
		return classify(fmt.Errorf("failed to update cash balance: %w", err))
	}
	l.balance = balance
	return nil
}

func (l *ledgerTx) Holding(ctx context.Context, coinID string) (decimal.Decimal, bool, error) {
	var raw string
	err := l.tx.QueryRow(ctx,
		"SELECT quantity::text FROM wallet WHERE user_id = $1 AND coin_id = $2 FOR UPDATE",
		l.userID, coinID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, lockError(err)
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse holding: %w", err)
	}
	return qty, true, nil
}

func (l *ledgerTx) SetHolding(ctx context.Context, coinID string, quantity decimal.Decimal) error {
	if quantity.IsZero() {
		_, err := l.tx.Exec(ctx, "DELETE FROM wallet WHERE user_id = $1 AND coin_id = $2", l.userID, coinID)
		if err != nil {
			return classify(fmt.Errorf("failed to delete holding: %w", err))
		}
		return nil
	}

	_, err := l.tx.Exec(ctx, `
		INSERT INTO wallet (user_id, coin_id, quantity) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, coin_id) DO UPDATE SET quantity = EXCLUDED.quantity, last_updated_at = NOW()`,
		l.userID, coinID, quantity.String())
	if err != nil {
		return classify(fmt.Errorf("failed to upsert holding: %w", err))
	}
	return nil
}

func (l *ledgerTx) Coin(ctx context.Context, coinID string) (*models.Coin, error) {
	coin, err := scanCoin(l.tx.QueryRow(ctx,
		"SELECT "+coinColumns+" FROM coins c WHERE c.id = $1", coinID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("coin %s: %w", coinID, models.ErrNotFound)
		}
		return nil, classify(fmt.Errorf("failed to get coin: %w", err))
	}
	return coin, nil
}

// AppendTrade stamps the record with clock_timestamp(), taken under the
// ledger lock, so created_at order matches commit order for the user.
func (l *ledgerTx) AppendTrade(ctx context.Context, rec *models.TradeRecord) error {
	err := l.tx.QueryRow(ctx, `
		INSERT INTO trade_history (user_id, coin_id, trade_type, trade_quantity, trade_price_per_coin,
			balance_before_trade, balance_after_trade, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, clock_timestamp())
		RETURNING id, created_at`,
		rec.UserID, rec.CoinID, string(rec.TradeType), rec.Quantity.String(), rec.PricePerCoin.String(),
		rec.BalanceBefore.String(), rec.BalanceAfter.String()).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to insert trade record: %w", err))
	}
	return nil
}

// CashBalance retrieves the user's committed cash balance
func (db *DB) CashBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	var raw string
	err := db.Pool.QueryRow(ctx, "SELECT cash_balance::text FROM bank_balance WHERE user_id = $1", userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("user %d: %w", userID, exchange.ErrMissingLedgerState)
		}
		return decimal.Zero, fmt.Errorf("failed to get cash balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse cash balance: %w", err)
	}
	return balance, nil
}

// Positions retrieves the user's holdings joined with their coins
func (db *DB) Positions(ctx context.Context, userID int) ([]exchange.Position, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+coinColumns+`, w.quantity::text, w.last_updated_at
		FROM wallet w JOIN coins c ON c.id = w.coin_id
		WHERE w.user_id = $1
		ORDER BY w.coin_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	var positions []exchange.Position
	for rows.Next() {
		var pos exchange.Position
		var qty string
		coin, err := scanCoin(rows, &qty, &pos.Holding.LastUpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if pos.Holding.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("failed to parse holding: %w", err)
		}
		pos.Holding.UserID = userID
		pos.Holding.CoinID = coin.ID
		pos.Coin = *coin
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// CountTrades counts the user's trade records
func (db *DB) CountTrades(ctx context.Context, userID int) (int, error) {
	var n int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM trade_history WHERE user_id = $1", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// TradeHistory retrieves a page of the user's trade records, newest first
func (db *DB) TradeHistory(ctx context.Context, userID int, limit, offset int) ([]models.TradeRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT t.id, t.user_id, t.coin_id, c.name, c.symbol, t.trade_type,
			t.trade_quantity::text, t.trade_price_per_coin::text,
			t.balance_before_trade::text, t.balance_after_trade::text, t.created_at
		FROM trade_history t JOIN coins c ON c.id = t.coin_id
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	records := []models.TradeRecord{}
	for rows.Next() {
		var (
			rec                       models.TradeRecord
			side                      string
			qty, price, before, after string
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.CoinID, &rec.CoinName, &rec.CoinSymbol, &side,
			&qty, &price, &before, &after, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		rec.TradeType = models.TradeType(side)
		for _, f := range []struct {
			src string
			dst *decimal.Decimal
		}{
			{qty, &rec.Quantity},
			{price, &rec.PricePerCoin},
			{before, &rec.BalanceBefore},
			{after, &rec.BalanceAfter},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("trade %d: failed to parse numeric %q: %w", rec.ID, f.src, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
