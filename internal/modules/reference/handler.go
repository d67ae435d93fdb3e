package reference

import (
	"net/http"

	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

type Handler struct{ checker *Checker }

func NewHandler(checker *Checker) *Handler { return &Handler{checker: checker} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/check-updates", h.check)
	rg.POST("/check-updates", h.check)
	rg.GET("/notice", h.notice)
}

func (h *Handler) check(c *gin.Context) {
	kind, err := ParseKind(c.DefaultQuery("kind", string(KindICD)))
	if err != nil {
		response.Failure(c, err)
		return
	}
	res := h.checker.Check(c.Request.Context(), kind)
	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"kind":           res.Kind,
		"summary":        res.Summary,
		"source_url":     res.SourceURL,
		"checked_at":     res.CheckedAt,
		"notice_written": res.NoticeWritten,
	})
}

func (h *Handler) notice(c *gin.Context) {
	text, err := h.checker.Notice(c.Request.Context())
	if err != nil {
		response.Failure(c, err)
		return
	}
	if c.Query("format") != "html" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", text)
		return
	}
	page, err := NoticeHTML(text)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}
