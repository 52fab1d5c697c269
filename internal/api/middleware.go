package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDFromContext returns the authenticated user set by JWTAuthMiddleware.
func UserIDFromContext(ctx context.Context) (int, bool) {
	userID, ok := ctx.Value(userIDKey).(int)
	return userID, ok
}

func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	// Remove "Bearer " prefix if present
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// JWTAuthMiddleware verifies the bearer token and stores its user id in the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authorization header required")
			return
		}

		userID, err := h.AuthService.GetUserFromToken(r.Context(), tokenString)
		if err != nil {
			h.fail(w, r, "JWTAuthMiddleware", err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request once it has been served.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", requestID(r)),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[int]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(limit rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[int]*limiterEntry),
		now:      time.Now,
	}
}

func (l *userLimiter) allow(userID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// tradeRateLimit rejects trades above the per-user rate. It must run after
// JWTAuthMiddleware.
func (h *Handler) tradeRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			userID, _ := UserIDFromContext(r.Context())
			if !h.limiter.allow(userID) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many trade requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
