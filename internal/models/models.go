package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits a coin quantity may carry.
const QuantityScale = 8

// MoneyScale is the number of fractional digits kept for prices and balances.
const MoneyScale = 18

// DefaultCashBalance is the simulation cash every new account starts with.
var DefaultCashBalance = decimal.NewFromInt(500000)

// User represents a registered user
type User struct {
	ID           int        `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Coin is the market data row maintained by the external price feed
type Coin struct {
	ID                       string              `json:"id"`
	Symbol                   string              `json:"symbol"`
	Name                     string              `json:"name"`
	Image                    string              `json:"image,omitempty"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	High24h                  decimal.NullDecimal `json:"high_24h"`
	Low24h                   decimal.NullDecimal `json:"low_24h"`
	PriceChange24h           decimal.NullDecimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
	MarketCap                *int64              `json:"market_cap"`
	MarketCapRank            *int                `json:"market_cap_rank"`
	TotalVolume              *int64              `json:"total_volume"`
	LastUpdated              time.Time           `json:"last_updated"`
}

// CashBalance is the single cash row owned by each user
type CashBalance struct {
	UserID        int             `json:"user_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

// Holding is a user's owned quantity of one coin. A row only exists while
// Quantity is positive.
type Holding struct {
	UserID        int             `json:"user_id"`
	CoinID        string          `json:"coin_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

// TradeType is the side of an executed trade
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Valid reports whether t is BUY or SELL.
func (t TradeType) Valid() bool {
	return t == TradeBuy || t == TradeSell
}

// TradeRecord is the immutable audit row written for every executed trade
type TradeRecord struct {
	ID            int             `json:"id"`
	UserID        int             `json:"user_id"`
	CoinID        string          `json:"coin_id"`
	CoinName      string          `json:"coin_name"`
	CoinSymbol    string          `json:"coin_symbol"`
	TradeType     TradeType       `json:"trade_type"`
	Quantity      decimal.Decimal `json:"trade_quantity"`
	PricePerCoin  decimal.Decimal `json:"trade_price_per_coin"`
	BalanceBefore decimal.Decimal `json:"balance_before_trade"`
	BalanceAfter  decimal.Decimal `json:"balance_after_trade"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Bookmark marks a coin a user follows
type Bookmark struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	CoinID    string    `json:"coin_id"`
	CreatedAt time.Time `json:"created_at"`
}
