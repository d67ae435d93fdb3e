package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() { gin.SetMode(gin.TestMode) }

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.NotEmpty(t, entries[1].ContextMap()["request_id"])
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Push(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func TestRateLimitWithMemoryLimiter(t *testing.T) {
	notifier := &fakeNotifier{}
	r := gin.New()
	r.Use(RateLimit(NewMemoryLimiter(2), notifier, zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)
	assert.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, notifier.count(), "alerts are throttled per ip and path")
}

func TestMemoryLimiterDropsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter(1)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 100, l.Len())

	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok, "second request in the same second is over budget")

	clock = clock.Add(bucketIdle + time.Second)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())
}

type memoryIdempotence struct {
	mu   sync.Mutex
	keys map[string]string
}

func (s *memoryIdempotence) Reserve(_ context.Context, key string, _ time.Duration) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.keys[key]; ok {
		return false, v, nil
	}
	s.keys[key] = stateInFlight
	return true, "", nil
}

func (s *memoryIdempotence) Finish(_ context.Context, key string, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.keys[key] = stateDone
	} else {
		delete(s.keys, key)
	}
	return nil
}

func TestIdempotence(t *testing.T) {
	store := &memoryIdempotence{keys: map[string]string{}}
	r := gin.New()
	r.Use(Idempotence(store))
	r.POST("/log-mood", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.POST("/reflection", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/check-updates", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/health/cron/run/:name", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(path, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if key != "" {
			req.Header.Set("x-idempotence", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("identical bodies without a key both log", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, post("/log-mood", "", `{"mood":"ok"}`).Code)
		assert.Equal(t, http.StatusOK, post("/log-mood", "", `{"mood":"ok"}`).Code)
	})

	t.Run("repeated key is rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, post("/log-mood", "mood-1", `{"mood":"ok"}`).Code)
		w := post("/log-mood", "mood-1", `{"mood":"ok"}`)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"duplicate_request"`)
		assert.Equal(t, http.StatusOK, post("/log-mood", "mood-2", `{"mood":"ok"}`).Code)
	})

	t.Run("failed requests may be retried", func(t *testing.T) {
		assert.Equal(t, http.StatusBadGateway, post("/fail", "f-1", `{}`).Code)
		assert.Equal(t, http.StatusBadGateway, post("/fail", "f-1", `{}`).Code)
	})

	t.Run("read-only posts are never deduplicated", func(t *testing.T) {
		for _, path := range []string{"/reflection", "/check-updates", "/health/cron/run/backup_logs"} {
			for i := 0; i < 2; i++ {
				assert.Equal(t, http.StatusOK, post(path, "same", `{"text":"ok, talk soon"}`).Code, path)
			}
		}
	})
}

func TestIdempotenceInFlight(t *testing.T) {
	store := &memoryIdempotence{keys: map[string]string{}}
	r := gin.New()
	r.Use(Idempotence(store))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	store.keys["feelgood:idempotence:/x:key-1"] = stateInFlight
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("x-idempotence", "key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "still being processed")
}

func TestShouldSkipIdempotence(t *testing.T) {
	assert.True(t, shouldSkipIdempotence(http.MethodGet, "/get-moods"))
	assert.True(t, shouldSkipIdempotence(http.MethodPost, "/Reflection/"))
	assert.True(t, shouldSkipIdempotence(http.MethodPost, "/health/cron/run/due_reminders"))
	assert.False(t, shouldSkipIdempotence(http.MethodPost, "/log-mood"))
	assert.False(t, shouldSkipIdempotence(http.MethodPost, "/complete-reminder/1"))
}
