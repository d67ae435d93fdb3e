package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/drfeelgood/core/internal/pkg/redis"
	"github.com/gin-gonic/gin"
)

const (
	idempotenceHeader = "x-idempotence"
	idempotenceTTL    = 60 * time.Second
	maxIdempotenceKey = 128
	stateInFlight     = "0"
	stateDone         = "1"
)

// IdempotenceStore records request keys for a short time.
type IdempotenceStore interface {
	// Reserve marks key in flight. It returns false and the stored state when the key is
	// already present.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, string, error)
	Finish(ctx context.Context, key string, ok bool) error
}

type redisIdempotence struct{ client *redis.Client }

// NewRedisIdempotence stores idempotence keys in Redis.
func NewRedisIdempotence(client *redis.Client) IdempotenceStore {
	return redisIdempotence{client: client}
}

func (s redisIdempotence) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	set, err := s.client.SetNX(ctx, key, stateInFlight, ttl)
	if err != nil || set {
		return set, "", err
	}
	state, err := s.client.Get(ctx, key)
	return false, state, err
}

func (s redisIdempotence) Finish(ctx context.Context, key string, ok bool) error {
	if ok {
		return s.client.Replace(ctx, key, stateDone)
	}
	return s.client.Del(ctx, key)
}

// Idempotence rejects a repeated POST or PUT that carries the same x-idempotence key,
// with 409 while the first is in flight and for a minute after it succeeded. Requests
// without the header are never deduplicated. Store errors let the request through.
func Idempotence(store IdempotenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotenceHeader))
		if key == "" || len(key) > maxIdempotenceKey || shouldSkipIdempotence(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		storeKey := fmt.Sprintf("feelgood:idempotence:%s:%s", c.Request.URL.Path, key)
		ctx := c.Request.Context()

		reserved, state, err := store.Reserve(ctx, storeKey, idempotenceTTL)
		if err != nil {
			c.Next()
			return
		}
		if !reserved {
			msg := "request with this idempotence key already succeeded, retry after 60 seconds"
			if state == stateInFlight {
				msg = "request with this idempotence key is still being processed"
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"ok":      0,
				"code":    http.StatusConflict,
				"kind":    failure.DuplicateRequest,
				"message": msg,
			})
			return
		}

		c.Next()

		status := c.Writer.Status()
		_ = store.Finish(context.WithoutCancel(ctx), storeKey, status >= 200 && status < 300)
	}
}

// shouldSkipIdempotence reports requests that never write a log entry. They are safe to
// repeat and are always passed through.
func shouldSkipIdempotence(method, path string) bool {
	switch method {
	case http.MethodPost, http.MethodPut:
	default:
		return true
	}

	p := strings.TrimRight(strings.ToLower(strings.TrimSpace(path)), "/")
	switch {
	case p == "/reflection", p == "/check-updates":
		return true
	case strings.HasPrefix(p, "/health/"):
		return true
	default:
		return false
	}
}
