package blobstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContentsAPI mimics the subset of the GitHub contents API the store uses.
type fakeContentsAPI struct {
	t      *testing.T
	mu     sync.Mutex
	files  map[string]fakeFile
	seq    int
	puts   []putRequest
	status int // forced status for every request when non-zero
}

type fakeFile struct {
	content []byte
	sha     string
}

func newFakeContentsAPI(t *testing.T) (*fakeContentsAPI, *httptest.Server) {
	api := &fakeContentsAPI{t: t, files: map[string]fakeFile{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeContentsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if got := r.Header.Get("Authorization"); got != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"forced"}`))
		return
	}

	const prefix = "/repos/owner/repo/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodGet:
		if ref := r.URL.Query().Get("ref"); ref != "main" {
			f.t.Errorf("ref = %q, want main", ref)
		}
		file, ok := f.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		encoded := base64.StdEncoding.EncodeToString(file.content)
		// The API wraps base64 at 60 columns.
		var wrapped strings.Builder
		for len(encoded) > 60 {
			wrapped.WriteString(encoded[:60] + "\n")
			encoded = encoded[60:]
		}
		wrapped.WriteString(encoded)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"encoding": "base64",
			"sha":      file.sha,
			"content":  wrapped.String(),
		})
	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode put: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, req)
		existing, ok := f.files[path]
		switch {
		case ok && req.SHA == "":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`))
			return
		case !ok && req.SHA != "":
			w.WriteHeader(http.StatusNotFound)
			return
		case ok && req.SHA != existing.sha:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"does not match"}`))
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			f.t.Errorf("decode content: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.seq++
		sha := fmt.Sprintf("sha-%d", f.seq)
		f.files[path] = fakeFile{content: content, sha: sha}
		status := http.StatusOK
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": sha}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestGitHub(t *testing.T, srv *httptest.Server, token string) *GitHub {
	t.Helper()
	g, err := NewGitHub(GitHubConfig{
		APIURL:  srv.URL,
		Repo:    "owner/repo",
		Branch:  "main",
		Token:   token,
		Timeout: 2 * time.Second,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return g
}

func TestNewGitHubRequiresCredentials(t *testing.T) {
	_, err := NewGitHub(GitHubConfig{Repo: "owner/repo"})
	assert.ErrorIs(t, err, failure.ErrConfigurationMissing)

	_, err = NewGitHub(GitHubConfig{Token: "x", Repo: "no-slash"})
	assert.ErrorIs(t, err, failure.ErrConfigurationMissing)
}

func TestGitHubGetAbsent(t *testing.T) {
	_, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "secret")

	obj, err := g.Get(context.Background(), "logs/mood_log.json")
	require.NoError(t, err)
	assert.False(t, obj.Exists)
	assert.Empty(t, obj.Revision)
}

func TestGitHubCreateThenUpdate(t *testing.T) {
	api, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "secret")
	ctx := context.Background()

	long := []byte(`[` + strings.Repeat(`{"mood":"calm"},`, 20) + `{"mood":"ok"}]`)
	rev, err := g.Put(ctx, "logs/mood_log.json", long, "Update logs/mood_log.json", "")
	require.NoError(t, err)
	assert.Equal(t, "sha-1", rev)

	obj, err := g.Get(ctx, "logs/mood_log.json")
	require.NoError(t, err)
	assert.True(t, obj.Exists)
	assert.Equal(t, "sha-1", obj.Revision)
	assert.Equal(t, long, obj.Content)

	rev, err = g.Put(ctx, "logs/mood_log.json", []byte(`[]`), "Update logs/mood_log.json", obj.Revision)
	require.NoError(t, err)
	assert.Equal(t, "sha-2", rev)

	require.Len(t, api.puts, 2)
	assert.Equal(t, "main", api.puts[1].Branch)
	assert.Equal(t, "sha-1", api.puts[1].SHA)
	assert.Equal(t, "Update logs/mood_log.json", api.puts[1].Message)
}

func TestGitHubStaleRevisionConflicts(t *testing.T) {
	_, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "secret")
	ctx := context.Background()

	_, err := g.Put(ctx, "a.json", []byte(`[]`), "m", "")
	require.NoError(t, err)

	_, err = g.Put(ctx, "a.json", []byte(`[1]`), "m", "sha-stale")
	assert.ErrorIs(t, err, failure.ErrConflict)

	// Creating over an existing file is also a conflict.
	_, err = g.Put(ctx, "a.json", []byte(`[1]`), "m", "")
	assert.ErrorIs(t, err, failure.ErrConflict)
}

func TestGitHubPutVanishedFile(t *testing.T) {
	_, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "secret")

	_, err := g.Put(context.Background(), "gone.json", []byte(`[]`), "m", "sha-9")
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestGitHubBadCredentials(t *testing.T) {
	_, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "wrong")

	_, err := g.Get(context.Background(), "a.json")
	assert.ErrorIs(t, err, failure.ErrUnauthorized)
	assert.Contains(t, err.Error(), "401")
}

func TestGitHubServerErrorIsTransport(t *testing.T) {
	api, srv := newFakeContentsAPI(t)
	api.status = http.StatusBadGateway
	g := newTestGitHub(t, srv, "secret")

	_, err := g.Get(context.Background(), "a.json")
	assert.ErrorIs(t, err, failure.ErrTransport)
}

func TestGitHubTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g, err := NewGitHub(GitHubConfig{APIURL: srv.URL, Repo: "owner/repo", Token: "secret", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = g.Get(context.Background(), "a.json")
	assert.ErrorIs(t, err, failure.ErrTransport)
}

func TestGitHubRejectsTraversal(t *testing.T) {
	_, srv := newFakeContentsAPI(t)
	g := newTestGitHub(t, srv, "secret")

	_, err := g.Get(context.Background(), "logs/../secrets")
	assert.ErrorIs(t, err, failure.ErrValidation)
}
