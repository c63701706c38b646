package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/rhewin/birthday-notifier/internal/health"
	"github.com/rhewin/birthday-notifier/internal/transport/http/handler"
	"github.com/rhewin/birthday-notifier/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, manualHandler *handler.ManualHandler, checker *health.Checker, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})
	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	manual := r.Group("/manual", middleware.Auth(jwtKey))
	manual.POST("/send-birthday-message", manualHandler.TriggerBirthdayMessages)

	return r
}
