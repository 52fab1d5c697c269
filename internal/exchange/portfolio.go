package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/papertrade/internal/models"
)

// Trade history page sizes.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// HoldingValue is one holding valued at the coin's current price
type HoldingValue struct {
	CoinID       string              `json:"coin_id"`
	CoinName     string              `json:"coin_name"`
	CoinSymbol   string              `json:"coin_symbol"`
	CoinImage    string              `json:"coin_image,omitempty"`
	Quantity     decimal.Decimal     `json:"quantity"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	CurrentValue decimal.Decimal     `json:"current_value"`
}

// PortfolioSnapshot is a user's total position
type PortfolioSnapshot struct {
	CashBalance         decimal.Decimal `json:"cash_balance"`
	Holdings            []HoldingValue  `json:"holdings"`
	TotalPortfolioValue decimal.Decimal `json:"total_portfolio_value"`
	TotalAssets         decimal.Decimal `json:"total_assets"`
}

// TradeHistoryPage is one page of a user's trade records, newest first
type TradeHistoryPage struct {
	Data       []models.TradeRecord `json:"data"`
	Count      int                  `json:"count"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}

// Portfolio is the read-only projection over a user's ledger. It never locks,
// so a trade committing mid-read may or may not be reflected.
type Portfolio struct {
	ledger LedgerReader
}

// NewPortfolio creates a new portfolio aggregator
func NewPortfolio(ledger LedgerReader) *Portfolio {
	return &Portfolio{ledger: ledger}
}

// Snapshot values every holding at its coin's current price. Holdings of
// coins without a price are listed but count as zero.
func (p *Portfolio) Snapshot(ctx context.Context, userID int) (*PortfolioSnapshot, error) {
	cash, err := p.ledger.CashBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions, err := p.ledger.Positions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	snap := &PortfolioSnapshot{
		CashBalance:         cash,
		Holdings:            make([]HoldingValue, 0, len(positions)),
		TotalPortfolioValue: decimal.Zero,
	}
	for _, pos := range positions {
		value := decimal.Zero
		if pos.Coin.CurrentPrice.Valid {
			value = pos.Holding.Quantity.Mul(pos.Coin.CurrentPrice.Decimal)
		}
		snap.Holdings = append(snap.Holdings, HoldingValue{
			CoinID:       pos.Coin.ID,
			CoinName:     pos.Coin.Name,
			CoinSymbol:   pos.Coin.Symbol,
			CoinImage:    pos.Coin.Image,
			Quantity:     pos.Holding.Quantity,
			CurrentPrice: pos.Coin.CurrentPrice,
			CurrentValue: value,
		})
		snap.TotalPortfolioValue = snap.TotalPortfolioValue.Add(value)
	}
	snap.TotalAssets = cash.Add(snap.TotalPortfolioValue)
	return snap, nil
}

// History returns one page of trade records. Out-of-range arguments are
// clamped: pageSize to [1, MaxPageSize] (DefaultPageSize when < 1), page to
// [1, total pages]. An empty history still has one (empty) page.
func (p *Portfolio) History(ctx context.Context, userID int, page, pageSize int) (*TradeHistoryPage, error) {
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	count, err := p.ledger.CountTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}

	totalPages := (count + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	records, err := p.ledger.TradeHistory(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	if records == nil {
		records = []models.TradeRecord{}
	}

	return &TradeHistoryPage{
		Data:       records,
		Count:      count,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
