package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/metrics"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// WindowCounter increments the hit count of key inside a window of the given
// length and returns the count plus the time left until the window resets.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type RedisWindowCounter struct {
	rdb *redis.Client
}

func NewRedisWindowCounter(rdb *redis.Client) *RedisWindowCounter {
	return &RedisWindowCounter{rdb: rdb}
}

func (r *RedisWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	left := ttl.Val()
	if left < 0 {
		left = window
	}
	return incr.Val(), left, nil
}

type RateLimiter struct {
	counter  WindowCounter
	requests int
	window   time.Duration
	prefix   string
	enabled  bool
}

// NewRateLimiter returns a limiter that lets every request through when it
// is disabled or counter is nil.
func NewRateLimiter(cfg config.RateLimitConfig, counter WindowCounter) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		requests: cfg.Requests,
		window:   cfg.Window,
		prefix:   cfg.Prefix,
		enabled:  cfg.Enabled && counter != nil && cfg.Requests > 0 && cfg.Window > 0,
	}
}

// Limit counts requests per client IP and route in fixed windows. Counter
// failures fail open.
func (l *RateLimiter) Limit(next echo.HandlerFunc) echo.HandlerFunc {
	if !l.enabled {
		return next
	}

	return func(c echo.Context) error {
		route := c.Path()
		key := l.key(c.RealIP(), route)

		count, left, err := l.counter.Incr(c.Request().Context(), key, l.window)
		if err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			return next(c)
		}

		remaining := int64(l.requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(l.requests))
		c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(l.requests) {
			retryAfter := int((left + time.Second - 1) / time.Second)
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			logrus.WithFields(logrus.Fields{
				"client_ip": c.RealIP(),
				"route":     route,
			}).Info("Rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, httpdto.ErrorResponse{
				Error: "too many requests",
				Code:  "RATE_LIMITED",
			})
		}

		return next(c)
	}
}

func (l *RateLimiter) key(ip, route string) string {
	if ip == "" {
		ip = "unknown"
	}
	return strings.Join([]string{l.prefix, "ip", ip, "route", route}, ":")
}
