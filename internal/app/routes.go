package app

import (
	"context"
	"net/http"

	"github.com/drfeelgood/core/internal/modules/backup"
	"github.com/drfeelgood/core/internal/modules/health"
	"github.com/drfeelgood/core/internal/modules/journal/mood"
	"github.com/drfeelgood/core/internal/modules/journal/reminder"
	"github.com/drfeelgood/core/internal/modules/prompts"
	"github.com/drfeelgood/core/internal/modules/reference"
	"github.com/drfeelgood/core/internal/pkg/metrics"
	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine) {
	router.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	router.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	root := router.Group("")

	root.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Mood/Reminder logger running"})
	})
	root.GET("/metrics", gin.WrapH(metrics.Handler()))

	mood.NewHandler(a.moods).RegisterRoutes(root)
	reminder.NewHandler(a.reminders).RegisterRoutes(root)
	reference.NewHandler(a.checker).RegisterRoutes(root)
	prompts.NewHandler(a.prompts).RegisterRoutes(root)
	backup.NewHandler(a.backup).RegisterRoutes(root)
	health.RegisterRoutes(root, a.cfg.Storage.Driver, a.probeStorage, a.sched)
}

// probeStorage reads the mood log. A missing file is healthy.
func (a *App) probeStorage(ctx context.Context) error {
	_, err := a.store.Get(ctx, a.cfg.Logs.MoodPath)
	return err
}
