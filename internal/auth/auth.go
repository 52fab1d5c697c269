package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/papertrade/internal/models"
)

var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrUnknownEmail    = errors.New("no account with this email")
	ErrWrongPassword   = errors.New("wrong password")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenRevoked    = fmt.Errorf("%w: revoked", ErrInvalidToken)
	ErrTokenExpired    = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrInvalidInput    = errors.New("invalid input")
	errMissingRevoker  = errors.New("auth: revoker is required")
	errMissingTokenMgr = errors.New("auth: token manager is required")
)

// UserStore is the account storage the service needs. CreateUser must
// create the user's cash balance in the same transaction.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, passwordHash string, initialCash decimal.Decimal) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id int, at time.Time) error
}

// AuthService handles user authentication
type AuthService struct {
	users    UserStore
	tokens   *TokenManager
	revoker  Revoker
	logger   *zap.Logger
	hashCost int
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(users UserStore, tokens *TokenManager, revoker Revoker, logger *zap.Logger) (*AuthService, error) {
	if tokens == nil {
		return nil, errMissingTokenMgr
	}
	if revoker == nil {
		return nil, errMissingRevoker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		tokens:   tokens,
		revoker:  revoker,
		logger:   logger.Named("auth"),
		hashCost: bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Session is a signed-in user and the bearer token issued for it.
type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register validates the input, creates the user with the default cash
// balance and signs it in.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := ValidateRegistration(email, name, password); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, name, string(hashedPassword), models.DefaultCashBalance)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, _, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.Int("user_id", user.ID))
	return &Session{User: user, Token: token}, nil
}

// Login verifies credentials, records the login time and issues a token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &ValidationError{Field: "email", Message: "email and password are required"}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUnknownEmail
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	user.LastLoginAt = &now

	token, _, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token}, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.Authenticate(ctx, tokenString)
	if err != nil {
		return err
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Authenticate verifies the token and checks that it is unrevoked and that
// its user still exists.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	if _, err := s.users.GetUserByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return nil, fmt.Errorf("failed to load token user: %w", err)
	}
	return claims, nil
}

// GetUserFromToken extracts the user ID from a valid, unrevoked JWT
func (s *AuthService) GetUserFromToken(ctx context.Context, tokenString string) (int, error) {
	claims, err := s.Authenticate(ctx, tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
