package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/notify"
)

const topCoinsCount = 10

// CoinCatalog serves the read-only coin endpoints.
type CoinCatalog interface {
	ListCoins(ctx context.Context) ([]models.Coin, error)
	TopCoins(ctx context.Context, n int) ([]models.Coin, error)
	GetCoin(ctx context.Context, coinID string) (*models.Coin, error)
}

// BookmarkStore persists bookmarks.
type BookmarkStore interface {
	AddBookmark(ctx context.Context, userID int, coinID string) (*models.Bookmark, error)
	RemoveBookmark(ctx context.Context, userID int, coinID string) error
	ListBookmarkedCoins(ctx context.Context, userID int) ([]models.Coin, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Catalog     CoinCatalog
	Bookmarks   BookmarkStore
	Engine      *exchange.Engine
	Portfolio   *exchange.Portfolio
	AuthService *auth.AuthService
	Hub         *notify.Hub

	limiter *userLimiter
	logger  *zap.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithHub enables the /ws trade feed.
func WithHub(hub *notify.Hub) Option {
	return func(h *Handler) { h.Hub = hub }
}

// WithTradeLimit caps each user's trade requests to perSecond with the given
// burst. A non-positive rate disables the limit.
func WithTradeLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = newUserLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHandler creates a new handler
func NewHandler(catalog CoinCatalog, bookmarks BookmarkStore, engine *exchange.Engine, portfolio *exchange.Portfolio, authService *auth.AuthService, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		Catalog:     catalog,
		Bookmarks:   bookmarks,
		Engine:      engine,
		Portfolio:   portfolio,
		AuthService: authService,
		logger:      logger.Named("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/coins", h.ListCoins)
	r.Get("/coins/top10", h.TopCoins)
	r.Get("/coins/{coin_id}", h.GetCoin)

	if h.Hub != nil {
		r.Get("/ws", h.TradeFeed)
	}

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/auth/logout", h.Logout)

		r.Post("/bookmarks", h.AddBookmark)
		r.Delete("/bookmarks/{coin_id}", h.RemoveBookmark)
		r.Get("/user/bookmarks", h.ListBookmarks)

		r.With(h.tradeRateLimit).Post("/trades/buy", h.Buy)
		r.With(h.tradeRateLimit).Post("/trades/sell", h.Sell)
		r.Get("/user/portfolio", h.GetPortfolio)
		r.Get("/user/trade-history", h.GetTradeHistory)
	})
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type sessionResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	session, err := h.AuthService.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.fail(w, r, "Register", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		Message: "registration completed",
		User:    session.User,
		Token:   session.Token,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	session, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "Login", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "login succeeded",
		User:    session.User,
		Token:   session.Token,
	})
}

// Logout revokes the bearer token of the request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.AuthService.Logout(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, r, "Logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type coinsResponse struct {
	Data  []models.Coin `json:"data"`
	Count int           `json:"count"`
}

// ListCoins returns every coin by market cap rank.
func (h *Handler) ListCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := h.Catalog.ListCoins(r.Context())
	if err != nil {
		h.fail(w, r, "ListCoins", err)
		return
	}
	writeJSON(w, http.StatusOK, coinsResponse{Data: coins, Count: len(coins)})
}

// TopCoins returns the ten highest ranked coins.
func (h *Handler) TopCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := h.Catalog.TopCoins(r.Context(), topCoinsCount)
	if err != nil {
		h.fail(w, r, "TopCoins", err)
		return
	}
	writeJSON(w, http.StatusOK, coinsResponse{Data: coins, Count: len(coins)})
}

func (h *Handler) GetCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := h.Catalog.GetCoin(r.Context(), chi.URLParam(r, "coin_id"))
	if err != nil {
		h.fail(w, r, "GetCoin", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*models.Coin{"data": coin})
}

func (h *Handler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req struct {
		CoinID string `json:"coin_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.CoinID == "" {
		h.badRequest(w, "coin_id is required")
		return
	}

	bookmark, err := h.Bookmarks.AddBookmark(r.Context(), userID, req.CoinID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusBadRequest, codeUnknownCoin, "coin not found: "+req.CoinID)
		return
	case errors.Is(err, models.ErrAlreadyExists):
		h.badRequest(w, "coin already bookmarked")
		return
	case err != nil:
		h.fail(w, r, "AddBookmark", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "bookmark added",
		"bookmark": bookmark,
	})
}

func (h *Handler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	coinID := chi.URLParam(r, "coin_id")

	if err := h.Bookmarks.RemoveBookmark(r.Context(), userID, coinID); err != nil {
		h.fail(w, r, "RemoveBookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "bookmark removed",
		"coin_id": coinID,
	})
}

func (h *Handler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	coins, err := h.Bookmarks.ListBookmarkedCoins(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "ListBookmarks", err)
		return
	}
	writeJSON(w, http.StatusOK, coinsResponse{Data: coins, Count: len(coins)})
}

type tradeRequest struct {
	CoinID   string          `json:"coin_id"`
	Quantity json.RawMessage `json:"quantity"`
}

// parseQuantity accepts the quantity as a JSON string or number. The raw
// digits are parsed directly so no float rounding is involved.
func parseQuantity(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("%w: quantity is required", exchange.ErrInvalidQuantity)
	}
	var q decimal.Decimal
	if err := q.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: quantity must be a decimal number", exchange.ErrInvalidQuantity)
	}
	return q, nil
}

type tradeResponse struct {
	Message string                `json:"message"`
	Trade   *exchange.TradeResult `json:"trade"`
}

type tradeFunc func(ctx context.Context, userID int, coinID string, quantity decimal.Decimal) (*exchange.TradeResult, error)

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, where string, do tradeFunc, status int, message string) {
	userID, _ := UserIDFromContext(r.Context())

	var req tradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil {
		h.fail(w, r, where, err)
		return
	}

	result, err := do(r.Context(), userID, req.CoinID, quantity)
	if err != nil {
		h.fail(w, r, where, err)
		return
	}
	writeJSON(w, status, tradeResponse{Message: message, Trade: result})
}

// Buy handles POST /trades/buy.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "Buy", h.Engine.Buy, http.StatusCreated, "purchase completed")
}

// Sell handles POST /trades/sell.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "Sell", h.Engine.Sell, http.StatusOK, "sale completed")
}

func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	snap, err := h.Portfolio.Snapshot(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "GetPortfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// queryInt returns the integer query parameter key, or 0 when it is absent
// or unparsable.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

// GetTradeHistory pages through the user's trades, newest first. Bad page
// arguments fall back to defaults instead of failing.
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	page, err := h.Portfolio.History(r.Context(), userID, queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		h.fail(w, r, "GetTradeHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// TradeFeed upgrades to a websocket that receives the caller's trades. The
// token is read from the token query parameter, then the Authorization header.
func (h *Handler) TradeFeed(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	userID, err := h.AuthService.GetUserFromToken(r.Context(), token)
	if err != nil {
		h.fail(w, r, "TradeFeed", err)
		return
	}
	h.Hub.Serve(w, r, userID)
}
