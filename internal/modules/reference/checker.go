package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/pkg/blobstore"
	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/drfeelgood/core/internal/pkg/metrics"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultICDAPIURL   = "https://id.who.int/icd/release/11/mms"
	DefaultICDHumanURL = "https://icd.who.int/en"
	DefaultDSMURL      = "https://www.psychiatry.org/psychiatrists/practice/dsm"
	DefaultNoticePath  = "DSM_ICD_Update_Notice.txt"
	defaultTimeout     = 10 * time.Second
	maxICDBody         = 1 << 20
)

// DSM has no machine-readable release feed; these lines are maintained by hand.
const (
	dsmRelease      = "DSM-5-TR (2022) Text Revision"
	dsmNextBulletin = "Q1 2026 (APA periodic supplement)"
)

type Kind string

const (
	KindDSM Kind = "DSM"
	KindICD Kind = "ICD"
)

// ParseKind accepts DSM or ICD in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindDSM:
		return KindDSM, nil
	case KindICD:
		return KindICD, nil
	}
	return "", failure.New(failure.Validation, "reference check", "kind must be DSM or ICD, got %q", s)
}

type Config struct {
	ICDAPIURL   string
	ICDHumanURL string
	DSMURL      string
	ICDToken    string
	NoticePath  string
	Timeout     time.Duration
	Location    *time.Location
}

func (c *Config) setDefaults() {
	if c.ICDAPIURL == "" {
		c.ICDAPIURL = DefaultICDAPIURL
	}
	if c.ICDHumanURL == "" {
		c.ICDHumanURL = DefaultICDHumanURL
	}
	if c.DSMURL == "" {
		c.DSMURL = DefaultDSMURL
	}
	if c.NoticePath == "" {
		c.NoticePath = DefaultNoticePath
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Result of one check. Summary always carries a human-readable line, including when the
// upstream source could not be read.
type Result struct {
	Kind          Kind      `json:"kind"`
	Summary       string    `json:"summary"`
	SourceURL     string    `json:"source_url"`
	CheckedAt     time.Time `json:"checked_at"`
	NoticeWritten bool      `json:"notice_written"`
}

type Checker struct {
	cfg        Config
	store      blobstore.Store
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Checker)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.httpClient = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(ch *Checker) {
		if l != nil {
			ch.logger = l
		}
	}
}

func NewChecker(cfg Config, store blobstore.Store, opts ...Option) *Checker {
	cfg.setDefaults()
	c := &Checker{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NoticePath is where the notice document is stored.
func (c *Checker) NoticePath() string { return c.cfg.NoticePath }

// Check reports the latest release for kind and rewrites the notice document. It never
// returns an error: upstream failures are reported in the summary and a failed notice
// write only clears NoticeWritten.
func (c *Checker) Check(ctx context.Context, kind Kind) Result {
	checkedAt := c.now().In(c.cfg.Location)

	icdLine, icdResult := c.icdRelease(ctx)
	metrics.ObserveReferenceCheck(string(KindICD), icdResult)

	res := Result{Kind: kind, CheckedAt: checkedAt}
	switch kind {
	case KindDSM:
		res.Summary = "Latest confirmed release: " + dsmRelease + ". Next expected bulletin: " + dsmNextBulletin + "."
		res.SourceURL = c.cfg.DSMURL
		metrics.ObserveReferenceCheck(string(KindDSM), "static")
	default:
		res.Summary = icdLine
		res.SourceURL = c.cfg.ICDHumanURL
	}

	if err := c.writeNotice(ctx, renderNotice(c.cfg, checkedAt, icdLine)); err != nil {
		c.logger.Warn("notice not written",
			zap.String("path", c.cfg.NoticePath),
			zap.String("kind", string(failure.KindOf(err))),
			zap.Error(err))
	} else {
		res.NoticeWritten = true
	}

	c.logger.Info("reference checked",
		zap.String("kind", string(kind)),
		zap.String("summary", res.Summary),
		zap.Bool("notice_written", res.NoticeWritten))
	return res
}

// icdRelease returns the summary line and a short result label for metrics.
func (c *Checker) icdRelease(ctx context.Context) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ICDAPIURL, nil)
	if err != nil {
		return fmt.Sprintf("Error checking ICD API: %v", err), "error"
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("API-Version", "v2")
	req.Header.Set("Accept-Language", "en")
	if c.cfg.ICDToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ICDToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error checking ICD API: %v", err), "error"
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxICDBody))
		return fmt.Sprintf("Unable to reach ICD API (HTTP %d)", resp.StatusCode), "unavailable"
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICDBody))
	if err != nil {
		return fmt.Sprintf("Error checking ICD API: %v", err), "error"
	}
	if !gjson.ValidBytes(body) {
		return "Error checking ICD API: response is not valid JSON", "error"
	}

	date := gjson.GetBytes(body, "releaseDate")
	if !date.Exists() || strings.TrimSpace(date.String()) == "" {
		return "ICD-11 release date not found in response.", "missing"
	}
	return "ICD-11 latest release date: " + date.String(), "ok"
}

func (c *Checker) writeNotice(ctx context.Context, text string) error {
	cur, err := c.store.Get(ctx, c.cfg.NoticePath)
	if err != nil {
		return err
	}
	_, err = c.store.Put(ctx, c.cfg.NoticePath, []byte(text), blobstore.CommitMessage(c.cfg.NoticePath), cur.Revision)
	return err
}

// Notice returns the stored notice document. A missing document is reported as NotFound.
func (c *Checker) Notice(ctx context.Context) ([]byte, error) {
	obj, err := c.store.Get(ctx, c.cfg.NoticePath)
	if err != nil {
		return nil, err
	}
	if !obj.Exists {
		return nil, failure.New(failure.NotFound, "read notice", "%s has not been written yet", c.cfg.NoticePath)
	}
	return obj.Content, nil
}
