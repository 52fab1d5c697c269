package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

func (s *Store) userLock(userID int) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	m, ok := s.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[userID] = m
	}
	return m
}

// WithUserLedger serializes all ledger work of one user behind a per-user
// mutex. Changes made through the tx are staged and only applied when fn
// succeeds and ctx is still live.
func (s *Store) WithUserLedger(ctx context.Context, userID int, fn func(tx exchange.LedgerTx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	bal, ok := s.balances[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %d: %w", userID, exchange.ErrMissingLedgerState)
	}

	tx := &ledgerTx{
		store:    s,
		userID:   userID,
		balance:  bal.CashBalance,
		holdings: make(map[string]decimal.Decimal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *ledgerTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if tx.balanceDirty {
		s.balances[tx.userID] = models.CashBalance{UserID: tx.userID, CashBalance: tx.balance, LastUpdatedAt: now}
	}
	for coinID, qty := range tx.holdings {
		key := holdingKey{userID: tx.userID, coinID: coinID}
		if qty.IsZero() {
			delete(s.holdings, key)
			continue
		}
		s.holdings[key] = models.Holding{UserID: tx.userID, CoinID: coinID, Quantity: qty, LastUpdatedAt: now}
	}
	s.trades[tx.userID] = append(s.trades[tx.userID], tx.trades...)
}

type ledgerTx struct {
	store        *Store
	userID       int
	balance      decimal.Decimal
	balanceDirty bool
	holdings     map[string]decimal.Decimal
	trades       []models.TradeRecord
}

func (tx *ledgerTx) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	return tx.balance, nil
}

func (tx *ledgerTx) SetCashBalance(ctx context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("cash balance would become negative: %s", balance)
	}
	tx.balance = balance
	tx.balanceDirty = true
	return nil
}

func (tx *ledgerTx) Holding(ctx context.Context, coinID string) (decimal.Decimal, bool, error) {
	if qty, ok := tx.holdings[coinID]; ok {
		return qty, !qty.IsZero(), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	h, ok := tx.store.holdings[holdingKey{userID: tx.userID, coinID: coinID}]
	if !ok {
		return decimal.Zero, false, nil
	}
	return h.Quantity, true, nil
}

func (tx *ledgerTx) SetHolding(ctx context.Context, coinID string, quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return fmt.Errorf("holding of %s would become negative: %s", coinID, quantity)
	}
	tx.holdings[coinID] = quantity
	return nil
}

func (tx *ledgerTx) Coin(ctx context.Context, coinID string) (*models.Coin, error) {
	return tx.store.GetCoin(ctx, coinID)
}

func (tx *ledgerTx) AppendTrade(ctx context.Context, rec *models.TradeRecord) error {
	tx.store.mu.Lock()
	tx.store.nextTradeID++
	rec.ID = tx.store.nextTradeID
	rec.CreatedAt = tx.store.now()
	tx.store.mu.Unlock()

	tx.trades = append(tx.trades, *rec)
	return nil
}

// CashBalance returns the user's committed balance.
func (s *Store) CashBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %d: %w", userID, exchange.ErrMissingLedgerState)
	}
	return bal.CashBalance, nil
}

// Positions returns the user's holdings joined with their coins, by coin id.
func (s *Store) Positions(ctx context.Context, userID int) ([]exchange.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []exchange.Position
	for key, h := range s.holdings {
		if key.userID != userID {
			continue
		}
		positions = append(positions, exchange.Position{Holding: h, Coin: s.coins[key.coinID]})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Holding.CoinID < positions[j].Holding.CoinID
	})
	return positions, nil
}

// Holding returns the committed quantity of coinID held by userID.
func (s *Store) Holding(userID int, coinID string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[holdingKey{userID: userID, coinID: coinID}]
	return h.Quantity, ok
}

// CountTrades returns how many trades the user executed.
func (s *Store) CountTrades(ctx context.Context, userID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades[userID]), nil
}

// TradeHistory returns trade records newest first.
func (s *Store) TradeHistory(ctx context.Context, userID int, limit, offset int) ([]models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trades[userID]
	out := make([]models.TradeRecord, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
