package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/loader"
	"github.com/lireddit/lireddit/internal/session"
)

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := session.UserIDFrom(c.Request.Context()); userID != 0 {
			fields = append(fields, zap.Int64("user_id", userID))
		}
		logger.Info("Request handled", fields...)
	}
}

// Identity resolves the session cookie and stores the caller's user id in
// the request context. Invalid or revoked sessions are treated as anonymous.
func Identity(sessions *session.Manager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessions.TokenFromRequest(c.Request)
		if token != "" {
			userID, err := sessions.Resolve(c.Request.Context(), token)
			switch {
			case err == nil:
				c.Request = c.Request.WithContext(session.WithUserID(c.Request.Context(), userID))
			case !errors.Is(err, session.ErrNoSession):
				logger.Warn("Failed to resolve session", zap.Error(err))
			}
		}
		c.Next()
	}
}

// Loaders attaches a fresh set of batch loaders to every request
func Loaders(repo *db.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := loader.WithLoaders(c.Request.Context(), loader.NewLoaders(repo))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

const (
	limiterIdle   = 5 * time.Minute
	sweepInterval = time.Minute
)

type clientLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time

	// next time idle clients are dropped
	nextSweep time.Time
}

// NewRateLimiter allows perMinute requests per client, with bursts of half that
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	burst := perMinute / 2
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may make another request
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !now.Before(r.nextSweep) {
		r.sweepLocked(now)
		r.nextSweep = now.Add(sweepInterval)
	}

	l, ok := r.limiters[key]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = l
	}
	l.expires = now.Add(limiterIdle)
	return l.limiter.AllowN(now, 1)
}

func (r *RateLimiter) sweepLocked(now time.Time) {
	for k, l := range r.limiters {
		if now.After(l.expires) {
			delete(r.limiters, k)
		}
	}
}

// Middleware rejects requests over the limit with HTTP 429
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   toRPCError(NewError(ErrRateLimitExceeded, "rate limit exceeded")),
			})
			return
		}
		c.Next()
	}
}
