package backup

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/pkg/blobstore"
	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const snapshotLayout = "20060102T150405Z"

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// ObjectReport describes one uploaded file.
type ObjectReport struct {
	Path     string `json:"path"`
	Key      string `json:"key"`
	Revision string `json:"revision"`
	Size     int    `json:"size"`
}

// Report summarises one snapshot.
type Report struct {
	Prefix  string         `json:"prefix"`
	Objects []ObjectReport `json:"objects"`
	Skipped []string       `json:"skipped"`
}

// Service copies the current content of the log files to object storage under
// {prefix}/{UTC timestamp}/{path}. Files that do not exist yet are skipped.
type Service struct {
	store    blobstore.Store
	uploader Uploader
	prefix   string
	paths    []string
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store blobstore.Store, uploader Uploader, prefix string, paths []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		uploader: uploader,
		prefix:   strings.Trim(prefix, "/"),
		paths:    paths,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot uploads every configured path. It stops at the first read or upload error and
// returns the partial report with it.
func (s *Service) Snapshot(ctx context.Context) (Report, error) {
	stamp := s.now().UTC().Format(snapshotLayout)
	report := Report{Prefix: path.Join(s.prefix, stamp), Objects: []ObjectReport{}, Skipped: []string{}}

	for _, p := range s.paths {
		obj, err := s.store.Get(ctx, p)
		if err != nil {
			return report, err
		}
		if !obj.Exists {
			report.Skipped = append(report.Skipped, p)
			continue
		}
		key := path.Join(report.Prefix, p)
		if err := s.uploader.Upload(ctx, key, obj.Content, contentTypeOf(p)); err != nil {
			return report, err
		}
		report.Objects = append(report.Objects, ObjectReport{Path: p, Key: key, Revision: obj.Revision, Size: len(obj.Content)})
	}

	s.logger.Info("snapshot uploaded",
		zap.String("prefix", report.Prefix),
		zap.Int("objects", len(report.Objects)),
		zap.Strings("skipped", report.Skipped))
	return report, nil
}

// Run is the scheduled form of Snapshot.
func (s *Service) Run(ctx context.Context) error {
	_, err := s.Snapshot(ctx)
	return err
}

func contentTypeOf(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return "application/json"
	case ".txt", ".md":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

var errNotConfigured = errors.New("backup is not configured")

// Handler exposes POST /backup. A nil service answers 404.
type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/backup", h.backup)
}

func (h *Handler) backup(c *gin.Context) {
	if h.svc == nil {
		response.NotFoundMsg(c, errNotConfigured.Error())
		return
	}
	report, err := h.svc.Snapshot(c.Request.Context())
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.OK(c, gin.H{"status": "success", "backup": report})
}
