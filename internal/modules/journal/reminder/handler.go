package reminder

import (
	"strconv"

	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/add-reminder", h.add)
	rg.GET("/get-reminders", h.list)
	rg.POST("/complete-reminder/:id", h.complete)
}

func (h *Handler) add(c *gin.Context) {
	var dto AddDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	r, err := h.svc.Add(c.Request.Context(), dto)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, r)
}

func (h *Handler) list(c *gin.Context) {
	entries, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.OK(c, entries)
}

func (h *Handler) complete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "id must be an integer")
		return
	}
	r, err := h.svc.Complete(c.Request.Context(), id)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, r)
}
