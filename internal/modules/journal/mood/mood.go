package mood

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/modules/journal/applog"
	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

const defaultMood = "neutral"

// Entry is one immutable mood record.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Mood      string `json:"mood"`
	Notes     string `json:"notes"`
}

type SubmitDTO struct {
	Mood  string `json:"mood"`
	Notes string `json:"notes"`
}

type Service struct {
	log *applog.Log
	now func() time.Time
}

func NewService(log *applog.Log) *Service {
	return &Service{log: log, now: time.Now}
}

// Submit appends a mood entry stamped with the current UTC time.
func (s *Service) Submit(ctx context.Context, dto SubmitDTO) (Entry, error) {
	mood := strings.TrimSpace(dto.Mood)
	if mood == "" {
		mood = defaultMood
	}
	entry := Entry{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Mood:      mood,
		Notes:     dto.Notes,
	}
	if err := s.log.Append(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns every stored entry as written, oldest first.
func (s *Service) List(ctx context.Context) ([]json.RawMessage, error) {
	return s.log.Entries(ctx)
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/log-mood", h.submit)
	rg.GET("/get-moods", h.list)
}

func (h *Handler) submit(c *gin.Context) {
	var dto SubmitDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	entry, err := h.svc.Submit(c.Request.Context(), dto)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, entry)
}

func (h *Handler) list(c *gin.Context) {
	entries, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.OK(c, entries)
}
