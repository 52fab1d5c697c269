package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/papertrade/internal/models"
)

// AddBookmark bookmarks a coin for a user
func (db *DB) AddBookmark(ctx context.Context, userID int, coinID string) (*models.Bookmark, error) {
	b := &models.Bookmark{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO bookmarks (user_id, coin_id) VALUES ($1, $2) RETURNING id, user_id, coin_id, created_at",
		userID, coinID).Scan(&b.ID, &b.UserID, &b.CoinID, &b.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return nil, fmt.Errorf("bookmark %s: %w", coinID, models.ErrAlreadyExists)
		case codeForeignKeyViolation:
			return nil, fmt.Errorf("coin %s: %w", coinID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to add bookmark: %w", err)
	}
	return b, nil
}

// RemoveBookmark deletes a user's bookmark
func (db *DB) RemoveBookmark(ctx context.Context, userID int, coinID string) error {
	tag, err := db.Pool.Exec(ctx, "DELETE FROM bookmarks WHERE user_id = $1 AND coin_id = $2", userID, coinID)
	if err != nil {
		return fmt.Errorf("failed to remove bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bookmark %s: %w", coinID, models.ErrNotFound)
	}
	return nil
}

// ListBookmarkedCoins retrieves a user's bookmarked coins, newest bookmark first
func (db *DB) ListBookmarkedCoins(ctx context.Context, userID int) ([]models.Coin, error) {
	return db.queryCoins(ctx, `
		SELECT `+coinColumns+`
		FROM bookmarks b JOIN coins c ON c.id = b.coin_id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC, b.id DESC`,
		userID)
}
