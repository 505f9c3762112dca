package routes

import (
	"encoding/json"
	"net/http"

	"graphony/internal/queue"
	"graphony/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// GetCacheStatsHandler reports the sample cache's current size, quota,
// and eviction policy.
func GetCacheStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Cache == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Cache not configured"})
	}
	return c.JSON(http.StatusOK, app.Cache.Stats())
}

type preloadCacheParams struct {
	GenreTag string `json:"genre_tag" validate:"required"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=500"`
}

type preloadCacheResponse struct {
	Message string `json:"message"`
}

// PreloadCacheHandler queues a preload job for the worker instead of
// fetching inline, so large warmups never block an API request.
func PreloadCacheHandler(c echo.Context) error {
	params := new(preloadCacheParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, preloadCacheResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, preloadCacheResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	job := queue.PreloadJobMsg{
		Message:  "Preload requested",
		GenreTag: params.GenreTag,
		Limit:    params.Limit,
	}
	msgBytes, err := json.Marshal(job)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, preloadCacheResponse{Message: "Failed to queue preload"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.PreloadQueue, msgBytes); err != nil {
		return c.JSON(http.StatusInternalServerError, preloadCacheResponse{Message: "Failed to queue preload"})
	}

	return c.JSON(http.StatusAccepted, preloadCacheResponse{Message: "Preload queued"})
}
