package exchange_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

func TestPortfolio_Snapshot(t *testing.T) {
	ctx := context.Background()
	engine, store, userID := newTestEngine(t, "1000", "100")
	require.NoError(t, store.UpsertCoin(ctx, models.Coin{
		ID:           "ethereum",
		Symbol:       "eth",
		Name:         "Ethereum",
		CurrentPrice: decimal.NewNullDecimal(d("10")),
	}))

	_, err := engine.Buy(ctx, userID, "bitcoin", d("2"))
	require.NoError(t, err)
	_, err = engine.Buy(ctx, userID, "ethereum", d("5"))
	require.NoError(t, err)

	price := d("150")
	store.SetPrice("bitcoin", &price)

	snap, err := exchange.NewPortfolio(store).Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.True(t, snap.CashBalance.Equal(d("750")))
	require.Len(t, snap.Holdings, 2)
	assert.Equal(t, "bitcoin", snap.Holdings[0].CoinID)
	assert.True(t, snap.Holdings[0].CurrentValue.Equal(d("300")))
	assert.True(t, snap.TotalPortfolioValue.Equal(d("350")))
	assert.True(t, snap.TotalAssets.Equal(d("1100")))
}

func TestPortfolio_SnapshotSkipsMissingPrice(t *testing.T) {
	ctx := context.Background()
	engine, store, userID := newTestEngine(t, "1000", "100")
	_, err := engine.Buy(ctx, userID, "bitcoin", d("1"))
	require.NoError(t, err)
	store.SetPrice("bitcoin", nil)

	snap, err := exchange.NewPortfolio(store).Snapshot(ctx, userID)
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.False(t, snap.Holdings[0].CurrentPrice.Valid)
	assert.True(t, snap.Holdings[0].CurrentValue.IsZero())
	assert.True(t, snap.TotalPortfolioValue.IsZero())
	assert.True(t, snap.TotalAssets.Equal(d("900")))
}

func TestPortfolio_SnapshotEmpty(t *testing.T) {
	_, store, userID := newTestEngine(t, "500000", "100")

	snap, err := exchange.NewPortfolio(store).Snapshot(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, snap.Holdings)
	assert.Empty(t, snap.Holdings)
	assert.True(t, snap.TotalAssets.Equal(d("500000")))
}

func TestPortfolio_SnapshotMissingLedgerState(t *testing.T) {
	_, store, userID := newTestEngine(t, "1000", "100")
	store.DeleteCashBalance(userID)

	_, err := exchange.NewPortfolio(store).Snapshot(context.Background(), userID)
	assert.ErrorIs(t, err, exchange.ErrMissingLedgerState)
}

func TestPortfolio_History(t *testing.T) {
	ctx := context.Background()
	engine, store, userID := newTestEngine(t, "1000000", "1")
	for i := 0; i < 25; i++ {
		_, err := engine.Buy(ctx, userID, "bitcoin", decimal.NewFromInt(int64(i+1)))
		require.NoError(t, err)
	}
	portfolio := exchange.NewPortfolio(store)

	tests := []struct {
		name         string
		page         int
		pageSize     int
		wantPage     int
		wantPageSize int
		wantLen      int
		wantFirstQty int64
		wantPages    int
	}{
		{name: "FirstPage", page: 1, pageSize: 10, wantPage: 1, wantPageSize: 10, wantLen: 10, wantFirstQty: 25, wantPages: 3},
		{name: "SecondPage", page: 2, pageSize: 10, wantPage: 2, wantPageSize: 10, wantLen: 10, wantFirstQty: 15, wantPages: 3},
		{name: "LastPartialPage", page: 3, pageSize: 10, wantPage: 3, wantPageSize: 10, wantLen: 5, wantFirstQty: 5, wantPages: 3},
		{name: "PastTheEnd", page: 9, pageSize: 10, wantPage: 3, wantPageSize: 10, wantLen: 5, wantFirstQty: 5, wantPages: 3},
		{name: "PageBelowOne", page: 0, pageSize: 10, wantPage: 1, wantPageSize: 10, wantLen: 10, wantFirstQty: 25, wantPages: 3},
		{name: "DefaultPageSize", page: 1, pageSize: 0, wantPage: 1, wantPageSize: 20, wantLen: 20, wantFirstQty: 25, wantPages: 2},
		{name: "MaxPageSize", page: 1, pageSize: 500, wantPage: 1, wantPageSize: 100, wantLen: 25, wantFirstQty: 25, wantPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := portfolio.History(ctx, userID, tt.page, tt.pageSize)
			require.NoError(t, err)
			assert.Equal(t, 25, page.Count)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantPageSize, page.PageSize)
			assert.Equal(t, tt.wantPages, page.TotalPages)
			require.Len(t, page.Data, tt.wantLen)
			assert.True(t, page.Data[0].Quantity.Equal(decimal.NewFromInt(tt.wantFirstQty)))
			for i := 1; i < len(page.Data); i++ {
				assert.Greater(t, page.Data[i-1].ID, page.Data[i].ID, "records must be newest first")
			}
		})
	}
}

func TestPortfolio_HistoryEmpty(t *testing.T) {
	_, store, userID := newTestEngine(t, "1000", "1")

	page, err := exchange.NewPortfolio(store).History(context.Background(), userID, 3, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Count)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.TotalPages)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}
