package server

import (
	"graphony/internal/server/middleware"
	"graphony/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Run routes
	apiRoutes.GET("/runs", routes.GetRunsHandler, middleware.RequirePermission("run.view"))
	apiRoutes.POST("/runs", routes.CreateRunHandler, middleware.RequirePermission("run.create"))
	apiRoutes.GET("/runs/:id", routes.GetRunHandler, middleware.RequirePermission("run.view"))
	apiRoutes.GET("/runs/:id/events", routes.GetRunEventsHandler, middleware.RequirePermission("run.view"))
	apiRoutes.DELETE("/runs/:id", routes.DeleteRunHandler, middleware.RequirePermission("run.delete"))

	// Cache routes
	apiRoutes.GET("/cache/stats", routes.GetCacheStatsHandler, middleware.RequirePermission("cache.view"))
	apiRoutes.POST("/cache/preload", routes.PreloadCacheHandler, middleware.RequirePermission("cache.preload"))
}
