package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drfeelgood/core/internal/modules/journal/applog"
	"github.com/drfeelgood/core/internal/pkg/blobstore"
	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remindersPath = "logs/reminders.json"

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestService(store blobstore.Store) *Service {
	svc := NewService(applog.New(store, remindersPath), nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestAddBuildsPendingReminder(t *testing.T) {
	store := blobstore.NewMemory()
	svc := newTestService(store)

	r, err := svc.Add(context.Background(), AddDTO{Reminder: " call mom ", DueDate: "2024-05-02"})
	require.NoError(t, err)
	assert.Equal(t, Reminder{
		ID:       fixedNow.Unix(),
		Reminder: "call mom",
		DueDate:  "2024-05-02",
		Status:   StatusPending,
		Created:  "2024-05-01T09:00:00Z",
	}, r)

	obj, err := store.Get(context.Background(), remindersPath)
	require.NoError(t, err)
	assert.NotContains(t, string(obj.Content), "completed")
}

func TestAddRequiresText(t *testing.T) {
	store := blobstore.NewMemory()
	_, err := newTestService(store).Add(context.Background(), AddDTO{Reminder: "   "})
	assert.ErrorIs(t, err, failure.ErrValidation)
	assert.Empty(t, store.Commits())
}

func TestCompleteUpdatesOnlyTarget(t *testing.T) {
	store := blobstore.NewMemory()
	seed := `[
  {"id": 100, "reminder": "a", "due_date": "2024-04-01", "status": "pending", "created": "x"},
  {"id": 200, "reminder": "b", "due_date": "", "status": "pending", "created": "y", "tag": "keep"},
  {"id": 300, "reminder": "c", "due_date": "2024-06-01", "status": "pending", "created": "z"}
]`
	store.Seed(remindersPath, []byte(seed))
	before, err := applog.Decode([]byte(seed))
	require.NoError(t, err)

	svc := newTestService(store)
	done, err := svc.Complete(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, "2024-05-01T09:00:00Z", done.Completed)
	assert.Equal(t, "b", done.Reminder)

	after, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.JSONEq(t, string(before[0]), string(after[0]))
	assert.JSONEq(t, string(before[2]), string(after[2]))
	assert.JSONEq(t,
		`{"id": 200, "reminder": "b", "due_date": "", "status": "done", "created": "y", "tag": "keep", "completed": "2024-05-01T09:00:00Z"}`,
		string(after[1]))
}

func TestCompleteFirstMatchWins(t *testing.T) {
	store := blobstore.NewMemory()
	store.Seed(remindersPath, []byte(`[{"id":1,"reminder":"a","status":"pending"},{"id":1,"reminder":"b","status":"pending"}]`))
	svc := newTestService(store)

	done, err := svc.Complete(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a", done.Reminder)

	raw, err := svc.List(context.Background())
	require.NoError(t, err)
	items, err := applog.DecodeEntries[Reminder](raw)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, items[0].Status)
	assert.Equal(t, StatusPending, items[1].Status)
}

func TestCompleteMissingIDLeavesFileUntouched(t *testing.T) {
	store := blobstore.NewMemory()
	rev := store.Seed(remindersPath, []byte(`[{"id":1,"reminder":"a","status":"pending"}]`))

	_, err := newTestService(store).Complete(context.Background(), 2)
	assert.ErrorIs(t, err, failure.ErrNotFound)

	obj, err := store.Get(context.Background(), remindersPath)
	require.NoError(t, err)
	assert.Equal(t, rev, obj.Revision)
	assert.Empty(t, store.Commits())
}

func TestCompleteMissingFile(t *testing.T) {
	_, err := newTestService(blobstore.NewMemory()).Complete(context.Background(), 1)
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestDue(t *testing.T) {
	store := blobstore.NewMemory()
	store.Seed(remindersPath, []byte(`[
  {"id":1,"reminder":"overdue","due_date":"2024-04-30","status":"pending"},
  {"id":2,"reminder":"today","due_date":"2024-05-01 18:00","status":"pending"},
  {"id":3,"reminder":"later","due_date":"2024-05-02","status":"pending"},
  {"id":4,"reminder":"done","due_date":"2024-04-01","status":"done"},
  {"id":5,"reminder":"free text","due_date":"next week","status":"pending"},
  "not an object"
]`))

	due, err := newTestService(store).Due(context.Background(), fixedNow)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "overdue", due[0].Reminder)
	assert.Equal(t, "today", due[1].Reminder)
}

func TestHandlerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := blobstore.NewMemory()
	r := gin.New()
	NewHandler(newTestService(store)).RegisterRoutes(r.Group(""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/add-reminder", bytes.NewReader([]byte(`{"due_date":"2024-05-02"}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code, "reminder text is required")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/add-reminder", bytes.NewReader([]byte(`{"reminder":"stretch","due_date":"2024-05-02"}`))))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/complete-reminder/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/complete-reminder/42", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"not_found"`)

	path := "/complete-reminder/" + jsonNumber(fixedNow.Unix())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/get-reminders", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []Reminder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, StatusDone, list[0].Status)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
