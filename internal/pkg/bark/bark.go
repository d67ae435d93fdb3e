package bark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultServerURL = "https://day.app"

// ErrNotConfigured is returned by Push when no device key is set.
var ErrNotConfigured = errors.New("bark key not configured")

// Config holds the Bark device key and server.
type Config struct {
	Key       string
	ServerURL string
	Group     string
}

// Service sends iOS push notifications via the Bark API.
type Service struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Bark service. An empty ServerURL falls back to the public server.
func New(cfg Config) *Service {
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a device key is configured.
func (s *Service) Enabled() bool { return s.cfg.Key != "" }

type pushPayload struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Group     string `json:"group,omitempty"`
}

// Push sends a notification immediately.
func (s *Service) Push(ctx context.Context, title, body string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}

	b, err := json.Marshal(pushPayload{
		DeviceKey: s.cfg.Key,
		Title:     title,
		Body:      body,
		Group:     s.cfg.Group,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL+"/push", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bark push: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
