package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/retry"
)

// maxQuantity bounds quantities to 12 integer digits, the NUMERIC(20,8)
// holding column.
var maxQuantity = decimal.New(1, 12)

// maxBalance bounds cash balances to 20 integer digits, the NUMERIC(38,18)
// balance column.
var maxBalance = decimal.New(1, 20)

// Exponent range accepted before any arithmetic touches a quantity.
const (
	minQuantityExponent = -(models.QuantityScale + 20)
	maxQuantityExponent = 12
)

// TradeResult summarizes an executed trade
type TradeResult struct {
	TradeID       int              `json:"trade_id"`
	TradeType     models.TradeType `json:"trade_type"`
	CoinID        string           `json:"coin_id"`
	CoinName      string           `json:"coin_name"`
	CoinSymbol    string           `json:"coin_symbol"`
	Quantity      decimal.Decimal  `json:"quantity"`
	PricePerCoin  decimal.Decimal  `json:"price_per_coin"`
	Total         decimal.Decimal  `json:"total"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	NewBalance    decimal.Decimal  `json:"new_balance"`
	ExecutedAt    time.Time        `json:"executed_at"`
}

// Engine executes buys and sells against a user's ledger
type Engine struct {
	coins    CoinReader
	ledger   Ledger
	notifier Notifier
	logger   *zap.Logger
	retry    retry.Config
	timeout  time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNotifier registers n to hear about committed trades.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRetry sets how ledger conflicts are retried.
func WithRetry(cfg retry.Config) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithTimeout bounds every trade, lock waits included.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// NewEngine creates a new trade engine
func NewEngine(coins CoinReader, ledger Ledger, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		coins:  coins,
		ledger: ledger,
		logger: logger.Named("exchange"),
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Buy debits quantity × current price from the user's cash and adds
// quantity to the holding.
func (e *Engine) Buy(ctx context.Context, userID int, coinID string, quantity decimal.Decimal) (*TradeResult, error) {
	return e.execute(ctx, userID, models.TradeBuy, coinID, quantity)
}

// Sell removes quantity from the holding and credits quantity × current
// price to the user's cash. A holding sold down to zero is deleted.
func (e *Engine) Sell(ctx context.Context, userID int, coinID string, quantity decimal.Decimal) (*TradeResult, error) {
	return e.execute(ctx, userID, models.TradeSell, coinID, quantity)
}

// ValidateQuantity checks that q is positive and fits NUMERIC(20,8).
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	if exp := q.Exponent(); exp < minQuantityExponent || exp > maxQuantityExponent {
		return fmt.Errorf("%w: quantity out of range", ErrInvalidQuantity)
	}
	if !q.Equal(q.Truncate(models.QuantityScale)) {
		return fmt.Errorf("%w: at most %d decimal places allowed", ErrInvalidQuantity, models.QuantityScale)
	}
	if q.GreaterThanOrEqual(maxQuantity) {
		return fmt.Errorf("%w: quantity too large", ErrInvalidQuantity)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, userID int, side models.TradeType, coinID string, quantity decimal.Decimal) (*TradeResult, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	if _, err := e.lookupCoin(ctx, coinID, e.coins.GetCoin); err != nil {
		return nil, err
	}

	tradeCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		tradeCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	isRetryable := func(err error) bool { return errors.Is(err, ErrConflict) }
	onRetry := func(attempt int, err error, backoff time.Duration) {
		e.logger.Warn("ledger conflict, retrying trade",
			zap.Int("user_id", userID),
			zap.String("coin_id", coinID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
	}

	result, err := retry.Do(tradeCtx, e.retry, isRetryable, onRetry, func() (*TradeResult, error) {
		return e.apply(tradeCtx, userID, side, coinID, quantity)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("trade executed",
		zap.Int("user_id", userID),
		zap.Int("trade_id", result.TradeID),
		zap.String("type", string(side)),
		zap.String("coin_id", coinID),
		zap.Stringer("quantity", result.Quantity),
		zap.Stringer("price", result.PricePerCoin),
	)

	if e.notifier != nil {
		if err := e.notifier.TradeExecuted(ctx, userID, *result); err != nil {
			e.logger.Warn("trade notification failed", zap.Int("trade_id", result.TradeID), zap.Error(err))
		}
	}
	return result, nil
}

// apply runs one attempt of the trade inside the user's critical section.
func (e *Engine) apply(ctx context.Context, userID int, side models.TradeType, coinID string, quantity decimal.Decimal) (*TradeResult, error) {
	var result *TradeResult
	err := e.ledger.WithUserLedger(ctx, userID, func(tx LedgerTx) error {
		balance, err := tx.CashBalance(ctx)
		if err != nil {
			return err
		}
		held, ok, err := tx.Holding(ctx, coinID)
		if err != nil {
			return err
		}
		if side == models.TradeSell {
			if !ok {
				return fmt.Errorf("%w: %s", ErrNoSuchHolding, coinID)
			}
			if held.LessThan(quantity) {
				return fmt.Errorf("%w: hold %s, selling %s", ErrInsufficientHolding, held, quantity)
			}
		}

		// The price is read again here; the earlier lookup only validated
		// the request.
		coin, err := e.lookupCoin(ctx, coinID, tx.Coin)
		if err != nil {
			return err
		}
		price := coin.CurrentPrice.Decimal
		total := quantity.Mul(price).Round(models.MoneyScale)

		var after, remaining decimal.Decimal
		switch side {
		case models.TradeBuy:
			if balance.LessThan(total) {
				return fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientFunds, balance, total)
			}
			after = balance.Sub(total)
			remaining = held.Add(quantity)
		case models.TradeSell:
			after = balance.Add(total)
			remaining = held.Sub(quantity)
		default:
			return fmt.Errorf("unsupported trade type %q", side)
		}
		if after.GreaterThanOrEqual(maxBalance) {
			return fmt.Errorf("%w: balance would reach %s", ErrLimitExceeded, after)
		}
		if remaining.GreaterThanOrEqual(maxQuantity) {
			return fmt.Errorf("%w: holding would reach %s", ErrLimitExceeded, remaining)
		}

		if err := tx.SetCashBalance(ctx, after); err != nil {
			return err
		}
		if err := tx.SetHolding(ctx, coinID, remaining); err != nil {
			return err
		}
		rec := &models.TradeRecord{
			UserID:        userID,
			CoinID:        coin.ID,
			CoinName:      coin.Name,
			CoinSymbol:    coin.Symbol,
			TradeType:     side,
			Quantity:      quantity,
			PricePerCoin:  price,
			BalanceBefore: balance,
			BalanceAfter:  after,
		}
		if err := tx.AppendTrade(ctx, rec); err != nil {
			return err
		}

		result = &TradeResult{
			TradeID:       rec.ID,
			TradeType:     side,
			CoinID:        coin.ID,
			CoinName:      coin.Name,
			CoinSymbol:    coin.Symbol,
			Quantity:      quantity,
			PricePerCoin:  price,
			Total:         total,
			BalanceBefore: balance,
			NewBalance:    after,
			ExecutedAt:    rec.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) lookupCoin(ctx context.Context, coinID string, get func(context.Context, string) (*models.Coin, error)) (*models.Coin, error) {
	if coinID == "" {
		return nil, fmt.Errorf("%w: coin_id is required", ErrUnknownCoin)
	}
	coin, err := get(ctx, coinID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCoin, coinID)
		}
		return nil, fmt.Errorf("failed to get coin: %w", err)
	}
	if !coin.CurrentPrice.Valid || !coin.CurrentPrice.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, coinID)
	}
	return coin, nil
}
