package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drfeelgood/core/internal/config"
	"github.com/drfeelgood/core/internal/pkg/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *recordingUploader) Upload(_ context.Context, key string, _ []byte, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return nil
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	icd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"releaseDate":"2024-01-15"}`))
	}))
	t.Cleanup(icd.Close)

	return &config.AppConfig{
		Port:           5000,
		Env:            "production",
		AllowedOrigins: []string{"*.example.com"},
		Storage:        config.StorageConfig{Driver: config.DriverMemory},
		Logs: config.LogsConfig{
			MoodPath:      "logs/mood_log.json",
			RemindersPath: "logs/reminders.json",
			OnMalformed:   "reject",
		},
		Reference: config.ReferenceConfig{ICDAPIURL: icd.URL, Timeout: time.Second, CheckInterval: time.Hour},
		RateLimit: config.RateLimitConfig{PerSecond: 50},
		S3:        config.S3Config{Prefix: "snap", Interval: time.Hour},
	}
}

func newTestApp(t *testing.T, cfg *config.AppConfig, opts ...Option) (*App, *blobstore.Memory) {
	t.Helper()
	store := blobstore.NewMemory()
	a, err := New(nil, cfg, append([]Option{WithStore(store), WithoutScheduler()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a, store
}

func do(a *App, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	return w
}

func TestRoutesEndToEnd(t *testing.T) {
	a, store := newTestApp(t, testConfig(t))

	w := do(a, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","message":"Mood/Reminder logger running"}`, w.Body.String())

	require.Equal(t, http.StatusOK, do(a, http.MethodPost, "/log-mood", `{"mood":"calm","notes":"tea"}`).Code)
	w = do(a, http.MethodGet, "/get-moods", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mood":"calm"`)

	w = do(a, http.MethodPost, "/add-reminder", `{"reminder":"journal","due_date":"2024-05-01"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var added struct {
		Entry struct {
			ID int64 `json:"id"`
		} `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	w = do(a, http.MethodPost, "/complete-reminder/"+jsonInt(added.Entry.ID), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"done"`)

	w = do(a, http.MethodGet, "/check-updates?kind=ICD", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ICD-11 latest release date: 2024-01-15")

	w = do(a, http.MethodGet, "/notice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Update procedure")

	assert.Equal(t, http.StatusOK, do(a, http.MethodGet, "/homework", "").Code)
	w = do(a, http.MethodPost, "/reflection", `{"text":"bye for now"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "null")

	messages := make([]string, 0, 4)
	for _, c := range store.Commits() {
		messages = append(messages, c.Message)
	}
	assert.Equal(t, []string{
		"Update logs/mood_log.json",
		"Update logs/reminders.json",
		"Update logs/reminders.json",
		"Update DSM_ICD_Update_Notice.txt",
	}, messages)
}

func TestErrorsAndAdminRoutes(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	w := do(a, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(a, http.MethodDelete, "/get-moods", "").Code)
	assert.Equal(t, http.StatusNotFound, do(a, http.MethodPost, "/complete-reminder/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(a, http.MethodGet, "/check-updates?kind=XYZ", "").Code)
	assert.Equal(t, http.StatusNotFound, do(a, http.MethodPost, "/backup", "").Code)

	w = do(a, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"driver":"memory"`)

	w = do(a, http.MethodGet, "/health/cron", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), jobReferenceCheck)
	assert.NotContains(t, w.Body.String(), jobDueReminders)

	w = do(a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feelgood_http_requests_total")
}

func TestBackupRouteAndJob(t *testing.T) {
	up := &recordingUploader{}
	a, store := newTestApp(t, testConfig(t), WithUploader(up))
	store.Seed("logs/mood_log.json", []byte(`[]`))

	w := do(a, http.MethodPost, "/backup", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, up.keys, 1)
	assert.True(t, strings.HasPrefix(up.keys[0], "snap/"))
	assert.True(t, strings.HasSuffix(up.keys[0], "/logs/mood_log.json"))

	w = do(a, http.MethodGet, "/health/cron", "")
	assert.Contains(t, w.Body.String(), jobBackup)
}

func TestCORS(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMatchOriginPattern(t *testing.T) {
	assert.True(t, matchOriginPattern("example.com", "example.com"))
	assert.True(t, matchOriginPattern("https://example.com", "example.com"))
	assert.True(t, matchOriginPattern("*.example.com", "a.b.example.com"))
	assert.False(t, matchOriginPattern("*.example.com", "example.org"))
	assert.True(t, matchOriginPattern("localhost:*", "localhost:3000"))
	assert.False(t, matchOriginPattern("localhost:*", "127.0.0.1:3000"))
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
