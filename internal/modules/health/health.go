package health

import (
	"context"
	"net/http"
	"time"

	"github.com/drfeelgood/core/internal/pkg/cron"
	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

const probeTimeout = 5 * time.Second

// Probe checks that the storage backend answers.
type Probe func(ctx context.Context) error

// RegisterRoutes mounts /health and the scheduler routes under rg. A nil sched leaves the
// cron routes answering 404.
func RegisterRoutes(rg *gin.RouterGroup, driver string, probe Probe, sched *cron.Scheduler) {
	rg.GET("/health", func(c *gin.Context) {
		storageOK := true
		var storageErr string
		if probe != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
			defer cancel()
			if err := probe(ctx); err != nil {
				storageOK = false
				storageErr = err.Error()
			}
		}

		status := "ok"
		code := http.StatusOK
		if !storageOK {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		body := gin.H{
			"status":  status,
			"storage": gin.H{"driver": driver, "ok": storageOK},
		}
		if storageErr != "" {
			body["error"] = storageErr
		}
		c.JSON(code, body)
	})

	cronGroup := rg.Group("/health/cron")
	{
		cronGroup.GET("", func(c *gin.Context) {
			if sched == nil {
				response.OK(c, gin.H{})
				return
			}
			items := sched.List()
			byName := make(map[string]cron.ListItem, len(items))
			for _, item := range items {
				byName[item.Name] = item
			}
			response.OK(c, byName)
		})

		cronGroup.POST("/run/:name", func(c *gin.Context) {
			if err := runJob(sched, c.Param("name")); err != nil {
				response.NotFoundMsg(c, err.Error())
				return
			}
			response.OK(c, gin.H{"message": "job triggered"})
		})

		cronGroup.GET("/task/:name", func(c *gin.Context) {
			if sched == nil {
				response.NotFoundMsg(c, cron.ErrJobNotFound.Error())
				return
			}
			result, err := sched.GetTask(c.Param("name"))
			if err != nil {
				response.NotFoundMsg(c, err.Error())
				return
			}
			response.OK(c, result)
		})
	}
}

func runJob(sched *cron.Scheduler, name string) error {
	if sched == nil {
		return cron.ErrJobNotFound
	}
	return sched.Run(name)
}
