package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/papertrade/internal/models"
)

// CoinReader resolves coins from the catalog. GetCoin returns an error
// wrapping models.ErrNotFound for unknown ids.
type CoinReader interface {
	GetCoin(ctx context.Context, coinID string) (*models.Coin, error)
}

// Ledger grants exclusive access to one user's ledger.
//
// WithUserLedger acquires the user's Cash Balance lock before calling fn and
// holds it until fn returns. Every row touched through the LedgerTx commits
// together when fn returns nil and is discarded otherwise. Implementations
// return ErrMissingLedgerState when the user has no Cash Balance.
//
// Lock order is fixed for every operation: Cash Balance first, then the
// Holding row. Since the Cash Balance lock is taken first by Buy and Sell
// alike, it acts as a per-user ledger lock and two trades of the same user
// can never wait on each other in opposite orders.
type Ledger interface {
	WithUserLedger(ctx context.Context, userID int, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of a single user's ledger inside the critical section.
type LedgerTx interface {
	// CashBalance returns the locked balance.
	CashBalance(ctx context.Context) (decimal.Decimal, error)
	SetCashBalance(ctx context.Context, balance decimal.Decimal) error
	// Holding locks and returns the held quantity of coinID; ok is false when
	// the user holds none.
	Holding(ctx context.Context, coinID string) (quantity decimal.Decimal, ok bool, err error)
	// SetHolding stores quantity for coinID; a zero quantity deletes the row.
	SetHolding(ctx context.Context, coinID string, quantity decimal.Decimal) error
	// Coin reads the coin's current market data without locking it.
	Coin(ctx context.Context, coinID string) (*models.Coin, error)
	// AppendTrade inserts rec and fills in its ID and CreatedAt.
	AppendTrade(ctx context.Context, rec *models.TradeRecord) error
}

// Position is a holding joined with the coin it refers to.
type Position struct {
	Holding models.Holding
	Coin    models.Coin
}

// LedgerReader serves the non-locking portfolio and history reads.
type LedgerReader interface {
	// CashBalance returns ErrMissingLedgerState when the row does not exist.
	CashBalance(ctx context.Context, userID int) (decimal.Decimal, error)
	Positions(ctx context.Context, userID int) ([]Position, error)
	CountTrades(ctx context.Context, userID int) (int, error)
	// TradeHistory returns records newest first.
	TradeHistory(ctx context.Context, userID int, limit, offset int) ([]models.TradeRecord, error)
}

// Notifier is told about every committed trade.
type Notifier interface {
	TradeExecuted(ctx context.Context, userID int, result TradeResult) error
}
