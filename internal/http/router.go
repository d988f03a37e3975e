// Package http assembles the development backend's gin engine.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/common/middleware"
	accountshttp "bundlealert-miniapp/internal/features/accounts/delivery/http"
	"bundlealert-miniapp/internal/features/accounts/service"
)

const serviceName = "bundlealert-stub-api"

// Pinger checks a backing store.
type Pinger func(ctx context.Context) error

type RouterOptions struct {
	Origin string
	Debug  bool
	// Ready is checked by /ready; nil means always ready.
	Ready Pinger
}

func NewRouter(svc service.Service, opts RouterOptions, log zerolog.Logger) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorHandler(log))
	router.Use(middleware.Logger(log))

	corsConfig := cors.DefaultConfig()
	if opts.Origin == "" || opts.Origin == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{opts.Origin}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization", "Accept", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.Use(middleware.Errors(log))

	router.GET(constants.PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})
	router.GET("/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/ready", func(c *gin.Context) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unready",
					"error":   "store unavailable",
					"details": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": serviceName})
	})

	accountshttp.NewHandler(svc).RegisterRoutes(router)
	return router
}
