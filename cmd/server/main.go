package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/api"
	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/cache"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/notify"
)

const shutdownTimeout = 10 * time.Second

// Main entry point: sets up database, trade engine, and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, db.Config{
		URL:         cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		LockTimeout: cfg.LockTimeout,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := database.Migrate(ctx)
	if err != nil {
		return err
	}
	for _, name := range applied {
		logger.Info("migration applied", zap.String("file", name))
	}

	coinCache, err := cache.New(1<<20, cfg.CacheTTL)
	if err != nil {
		return err
	}
	defer coinCache.Close()
	catalog := cache.NewCoinCatalog(database, coinCache)

	revoker, closeRevoker, err := newRevoker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRevoker()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	authService, err := auth.NewAuthService(database, tokens, revoker, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger, originChecker(cfg.CORSOrigins))
	defer hub.Close()
	notifiers := notify.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		logger.Info("publishing trades to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	engine := exchange.NewEngine(database, database, logger,
		exchange.WithNotifier(notifiers),
		exchange.WithTimeout(cfg.TradeTimeout),
	)
	portfolio := exchange.NewPortfolio(database)

	handler := api.NewHandler(catalog, database, engine, portfolio, authService, logger,
		api.WithHub(hub),
		api.WithTradeLimit(cfg.TradeRatePerSec, cfg.TradeBurst),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	handler.Routes(r)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not closed by Shutdown.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newRevoker uses Redis when REDIS_ADDR is set so logouts reach every
// replica, and process memory otherwise.
func newRevoker(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.Revoker, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, token revocations are kept in memory")
		return auth.NewMemoryRevoker(), func() {}, nil
	}
	r, err := auth.NewRedisRevoker(auth.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

// originChecker accepts websocket upgrades from the CORS origins. A "*"
// entry accepts any origin.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
