package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Limiter is a fixed-window counter shared through Redis, so every instance
// sees the same attempt count.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

func New(rdb redis.Cmdable, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: "ratelimit:auth"}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Allow counts one attempt for key. On Redis errors it allows the attempt
// and returns the error for logging.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		// first hit of the window
		if err := l.rdb.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
		ttl = l.window
	}
	return incr.Val() <= int64(l.limit), ttl, nil
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// Middleware limits attempts per client IP within scope. Rejected requests
// get 429 with Retry-After; onLimited, when set, is told about each one.
func (l *Limiter) Middleware(scope string, log logrus.FieldLogger, onLimited func(scope string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter, err := l.Allow(c.Request.Context(), clientKey(scope, c))
		if err != nil {
			log.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !allowed {
			if onLimited != nil {
				onLimited(scope)
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts, please try again later",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// ClearingMiddleware limits like Middleware, but a 2xx answer clears the
// client's counter so that only failed attempts accumulate.
func (l *Limiter) ClearingMiddleware(scope string, log logrus.FieldLogger, onLimited func(scope string)) gin.HandlerFunc {
	limit := l.Middleware(scope, log, onLimited)
	return func(c *gin.Context) {
		limit(c)
		if status := c.Writer.Status(); status < 200 || status >= 300 {
			return
		}
		if err := l.Reset(c.Request.Context(), clientKey(scope, c)); err != nil {
			log.WithError(err).WithField("scope", scope).Warn("rate limiter reset failed")
		}
	}
}

func clientKey(scope string, c *gin.Context) string {
	return scope + ":" + c.ClientIP()
}
