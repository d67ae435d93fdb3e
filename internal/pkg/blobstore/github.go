package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/drfeelgood/core/internal/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultAPIURL   = "https://api.github.com"
	defaultBranch   = "main"
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 8 << 20
	maxErrorExcerpt = 512
	apiVersion      = "2022-11-28"
)

// GitHubConfig addresses one repository branch through the contents API.
type GitHubConfig struct {
	APIURL  string
	Repo    string // "owner/name"
	Branch  string
	Token   string
	Timeout time.Duration
}

// GitHub is a Store backed by the GitHub repository contents API. Every successful Put
// is a commit on the configured branch.
type GitHub struct {
	cfg        GitHubConfig
	httpClient *http.Client
	logger     *zap.Logger
}

type GitHubOption func(*GitHub)

// WithHTTPClient replaces the default client. Its Timeout is left as supplied.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHub) { g.httpClient = c }
}

func WithLogger(l *zap.Logger) GitHubOption {
	return func(g *GitHub) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGitHub validates cfg and returns a store. Token and Repo are required.
func NewGitHub(cfg GitHubConfig, opts ...GitHubOption) (*GitHub, error) {
	cfg.Repo = strings.Trim(strings.TrimSpace(cfg.Repo), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, failure.New(failure.ConfigurationMissing, "github store", "token is not configured")
	}
	if cfg.Repo == "" || !strings.Contains(cfg.Repo, "/") {
		return nil, failure.New(failure.ConfigurationMissing, "github store", "repo must be \"owner/name\", got %q", cfg.Repo)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if strings.TrimSpace(cfg.Branch) == "" {
		cfg.Branch = defaultBranch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	g := &GitHub{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Type     string `json:"type"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (g *GitHub) Get(ctx context.Context, path string) (Object, error) {
	obj, err := g.get(ctx, path)
	metrics.ObserveBlobstore("get", resultOf(err, obj.Exists))
	return obj, err
}

func (g *GitHub) get(ctx context.Context, path string) (Object, error) {
	const op = "github get"
	endpoint, err := g.contentsURL(path)
	if err != nil {
		return Object{}, failure.Wrap(failure.Validation, op, err)
	}
	endpoint += "?ref=" + url.QueryEscape(g.cfg.Branch)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Object{}, failure.Wrap(failure.Transport, op, err)
	}
	g.setHeaders(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Object{}, failure.Wrap(failure.Transport, op, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return Object{}, failure.Wrap(failure.Transport, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		g.logger.Debug("file absent", zap.String("path", path))
		return Object{}, nil
	case resp.StatusCode != http.StatusOK:
		return Object{}, statusFailure(op, resp.StatusCode, body)
	}

	var payload contentsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Object{}, failure.Wrap(failure.Transport, op, fmt.Errorf("decode contents response: %w", err))
	}
	if payload.Type != "" && payload.Type != "file" {
		return Object{}, failure.New(failure.MalformedStoredData, op, "%s is a %s, not a file", path, payload.Type)
	}
	if payload.Encoding == "none" {
		return Object{}, failure.New(failure.Transport, op, "%s exceeds the contents API size limit", path)
	}

	content, err := decodeContent(payload.Content)
	if err != nil {
		return Object{}, failure.Wrap(failure.MalformedStoredData, op, fmt.Errorf("decode base64 content: %w", err))
	}
	g.logger.Debug("file fetched", zap.String("path", path), zap.String("sha", payload.SHA), zap.Int("bytes", len(content)))
	return Object{Content: content, Revision: payload.SHA, Exists: true}, nil
}

func (g *GitHub) Put(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	sha, err := g.put(ctx, path, content, message, revision)
	metrics.ObserveBlobstore("put", resultOf(err, true))
	return sha, err
}

func (g *GitHub) put(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	const op = "github put"
	endpoint, err := g.contentsURL(path)
	if err != nil {
		return "", failure.Wrap(failure.Validation, op, err)
	}

	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  g.cfg.Branch,
		SHA:     revision,
	})
	if err != nil {
		return "", failure.Wrap(failure.Transport, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", failure.Wrap(failure.Transport, op, err)
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.Transport, op, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return "", failure.Wrap(failure.Transport, op, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return "", failure.New(failure.Conflict, op, "revision %q of %s is stale", revision, path)
	case http.StatusUnprocessableEntity:
		// Returned when sha is omitted for an existing file, or does not match.
		return "", failure.New(failure.Conflict, op, "%s: %s", path, excerpt(body))
	case http.StatusNotFound:
		if revision != "" {
			return "", failure.New(failure.NotFound, op, "%s no longer exists", path)
		}
		return "", statusFailure(op, resp.StatusCode, body)
	default:
		return "", statusFailure(op, resp.StatusCode, body)
	}

	var out putResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", failure.Wrap(failure.Transport, op, fmt.Errorf("decode put response: %w", err))
	}
	g.logger.Debug("file committed",
		zap.String("path", path),
		zap.String("previous_sha", revision),
		zap.String("sha", out.Content.SHA),
	)
	return out.Content.SHA, nil
}

func (g *GitHub) contentsURL(path string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(path), "/")
	if clean == "" {
		return "", errors.New("empty path")
	}
	segments := strings.Split(clean, "/")
	for i, s := range segments {
		if s == "" || s == "." || s == ".." {
			return "", fmt.Errorf("invalid path %q", path)
		}
		segments[i] = url.PathEscape(s)
	}
	return g.cfg.APIURL + "/repos/" + g.cfg.Repo + "/contents/" + strings.Join(segments, "/"), nil
}

func (g *GitHub) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}

func decodeContent(raw string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(raw)
	return base64.StdEncoding.DecodeString(cleaned)
}

func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}
	return body, nil
}

func statusFailure(op string, status int, body []byte) error {
	kind := failure.Transport
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = failure.Unauthorized
	}
	return failure.New(kind, op, "HTTP %d: %s", status, excerpt(body))
}

func excerpt(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorExcerpt {
		msg = msg[:maxErrorExcerpt] + "...(truncated)"
	}
	return msg
}

func resultOf(err error, exists bool) string {
	if err != nil {
		if k := failure.KindOf(err); k != "" {
			return string(k)
		}
		return "error"
	}
	if !exists {
		return "absent"
	}
	return "ok"
}
