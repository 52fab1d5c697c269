// Package memory is an in-process store with the same behavior as the
// PostgreSQL one. It backs unit tests and local runs without a database.
//
// All operations are safe for concurrent use. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

var (
	_ exchange.CoinReader   = (*Store)(nil)
	_ exchange.Ledger       = (*Store)(nil)
	_ exchange.LedgerReader = (*Store)(nil)
)

type holdingKey struct {
	userID int
	coinID string
}

// Store holds users, coins, bookmarks and ledgers in maps.
type Store struct {
	mu sync.RWMutex

	nextUserID     int
	nextTradeID    int
	nextBookmarkID int

	users     map[int]*models.User
	emails    map[string]int
	coins     map[string]models.Coin
	balances  map[int]models.CashBalance
	holdings  map[holdingKey]models.Holding
	trades    map[int][]models.TradeRecord
	bookmarks map[holdingKey]models.Bookmark

	locksMu sync.Mutex
	locks   map[int]*sync.Mutex

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:     make(map[int]*models.User),
		emails:    make(map[string]int),
		coins:     make(map[string]models.Coin),
		balances:  make(map[int]models.CashBalance),
		holdings:  make(map[holdingKey]models.Holding),
		trades:    make(map[int][]models.TradeRecord),
		bookmarks: make(map[holdingKey]models.Bookmark),
		locks:     make(map[int]*sync.Mutex),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser stores a user and its starting cash balance together.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string, initialCash decimal.Decimal) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.emails[key]; ok {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrAlreadyExists)
	}

	s.nextUserID++
	now := s.now()
	user := &models.User{
		ID:           s.nextUserID,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	s.users[user.ID] = user
	s.emails[key] = user.ID
	s.balances[user.ID] = models.CashBalance{UserID: user.ID, CashBalance: initialCash, LastUpdatedAt: now}

	u := *user
	return &u, nil
}

// GetUserByEmail looks a user up by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	u := *s.users[id]
	return &u, nil
}

// GetUserByID looks a user up by id.
func (s *Store) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	u := *user
	return &u, nil
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, id int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	user.LastLoginAt = &at
	return nil
}

// DeleteCashBalance drops a user's cash row, leaving the account without
// ledger state.
func (s *Store) DeleteCashBalance(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.balances, userID)
}

// UpsertCoin inserts or replaces a coin, the way the market data feed does.
func (s *Store) UpsertCoin(ctx context.Context, coin models.Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins[coin.ID] = coin
	return nil
}

// SetPrice changes a coin's current price; a nil price clears it.
func (s *Store) SetPrice(coinID string, price *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coin, ok := s.coins[coinID]
	if !ok {
		return
	}
	if price == nil {
		coin.CurrentPrice = decimal.NullDecimal{}
	} else {
		coin.CurrentPrice = decimal.NewNullDecimal(*price)
	}
	coin.LastUpdated = s.now()
	s.coins[coinID] = coin
}

// GetCoin returns a coin by id.
func (s *Store) GetCoin(ctx context.Context, coinID string) (*models.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coin, ok := s.coins[coinID]
	if !ok {
		return nil, fmt.Errorf("coin %s: %w", coinID, models.ErrNotFound)
	}
	return &coin, nil
}

// ListCoins returns every coin ordered by market cap rank, unranked last.
func (s *Store) ListCoins(ctx context.Context) ([]models.Coin, error) {
	s.mu.RLock()
	coins := make([]models.Coin, 0, len(s.coins))
	for _, c := range s.coins {
		coins = append(coins, c)
	}
	s.mu.RUnlock()

	sortByRank(coins)
	return coins, nil
}

// TopCoins returns the coins ranked 1..n.
func (s *Store) TopCoins(ctx context.Context, n int) ([]models.Coin, error) {
	s.mu.RLock()
	coins := make([]models.Coin, 0, n)
	for _, c := range s.coins {
		if c.MarketCapRank != nil && *c.MarketCapRank >= 1 && *c.MarketCapRank <= n {
			coins = append(coins, c)
		}
	}
	s.mu.RUnlock()

	sortByRank(coins)
	return coins, nil
}

func sortByRank(coins []models.Coin) {
	sort.Slice(coins, func(i, j int) bool {
		ri, rj := coins[i].MarketCapRank, coins[j].MarketCapRank
		switch {
		case ri == nil && rj == nil:
			return coins[i].ID < coins[j].ID
		case ri == nil:
			return false
		case rj == nil:
			return true
		case *ri == *rj:
			return coins[i].ID < coins[j].ID
		default:
			return *ri < *rj
		}
	})
}

// AddBookmark bookmarks coinID for userID.
func (s *Store) AddBookmark(ctx context.Context, userID int, coinID string) (*models.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.coins[coinID]; !ok {
		return nil, fmt.Errorf("coin %s: %w", coinID, models.ErrNotFound)
	}
	key := holdingKey{userID: userID, coinID: coinID}
	if _, ok := s.bookmarks[key]; ok {
		return nil, fmt.Errorf("bookmark %s: %w", coinID, models.ErrAlreadyExists)
	}

	s.nextBookmarkID++
	b := models.Bookmark{ID: s.nextBookmarkID, UserID: userID, CoinID: coinID, CreatedAt: s.now()}
	s.bookmarks[key] = b
	return &b, nil
}

// RemoveBookmark deletes a bookmark.
func (s *Store) RemoveBookmark(ctx context.Context, userID int, coinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{userID: userID, coinID: coinID}
	if _, ok := s.bookmarks[key]; !ok {
		return fmt.Errorf("bookmark %s: %w", coinID, models.ErrNotFound)
	}
	delete(s.bookmarks, key)
	return nil
}

// ListBookmarkedCoins returns the user's bookmarked coins, newest bookmark first.
func (s *Store) ListBookmarkedCoins(ctx context.Context, userID int) ([]models.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var marks []models.Bookmark
	for key, b := range s.bookmarks {
		if key.userID == userID {
			marks = append(marks, b)
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].ID > marks[j].ID })

	coins := make([]models.Coin, 0, len(marks))
	for _, b := range marks {
		coins = append(coins, s.coins[b.CoinID])
	}
	return coins, nil
}
