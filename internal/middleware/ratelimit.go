package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drfeelgood/core/internal/pkg/redis"
	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 50
	rateLimitWindow  = time.Second
	alertThrottle    = 10 * time.Minute
)

// Limiter decides whether one more request from key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Notifier receives an alert when a client is throttled.
type Notifier interface {
	Push(ctx context.Context, title, body string) error
}

// RedisLimiter is a fixed one-second window shared by every instance using the same Redis.
type RedisLimiter struct {
	client *redis.Client
	max    int64
}

func NewRedisLimiter(client *redis.Client, perSecond int) *RedisLimiter {
	if perSecond <= 0 {
		perSecond = defaultRateLimit
	}
	return &RedisLimiter{client: client, max: int64(perSecond)}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("feelgood:rate_limit:%s:%d", key, time.Now().Unix())
	count, err := l.client.Incr(ctx, windowKey, rateLimitWindow+time.Second)
	if err != nil {
		return true, err
	}
	return count <= l.max, nil
}

// MemoryLimiter keeps one token bucket per key in process. Buckets idle for longer than
// bucketIdle have refilled and are dropped on the next sweep.
type MemoryLimiter struct {
	mu        sync.Mutex
	perSec    rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	bucketIdle    = time.Minute
	sweepInterval = time.Minute
)

func NewMemoryLimiter(perSecond int) *MemoryLimiter {
	if perSecond <= 0 {
		perSecond = defaultRateLimit
	}
	return &MemoryLimiter{
		perSec:  rate.Limit(perSecond),
		burst:   perSecond,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1), nil
}

// sweep must be called with mu held.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > bucketIdle {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit rejects clients over the limiter's budget with 429. Limiter errors let the
// request through. When notifier is set, each ip and path pair raises at most one alert
// per ten minutes.
func RateLimit(limiter Limiter, notifier Notifier, log *zap.Logger) gin.HandlerFunc {
	var (
		mu        sync.Mutex
		lastAlert = make(map[string]time.Time)
	)
	alert := func(ip, path string) {
		key := ip + "|" + path
		mu.Lock()
		if last, ok := lastAlert[key]; ok && time.Since(last) < alertThrottle {
			mu.Unlock()
			return
		}
		now := time.Now()
		for k, last := range lastAlert {
			if now.Sub(last) >= alertThrottle {
				delete(lastAlert, k)
			}
		}
		lastAlert[key] = now
		mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Push(ctx, "Rate limit exceeded", fmt.Sprintf("IP: %s Path: %s", ip, path)); err != nil {
			log.Warn("rate limit alert failed", zap.Error(err))
		}
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ok, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
		}
		if !ok {
			log.Warn("rate limited", zap.String("ip", ip), zap.String("path", c.Request.URL.Path))
			if notifier != nil {
				go alert(ip, c.Request.URL.Path)
			}
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
