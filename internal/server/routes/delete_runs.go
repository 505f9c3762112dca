package routes

import (
	"net/http"

	"graphony/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

type deleteRunParams struct {
	ID string `param:"id" validate:"required"`
}

type deleteRunResponse struct {
	Message string `json:"message"`
}

// DeleteRunHandler stops a running playback. Stopping a finished run is
// harmless.
func DeleteRunHandler(c echo.Context) error {
	params := new(deleteRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteRunResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteRunResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if !app.Runs.Stop(params.ID) {
		return c.JSON(http.StatusNotFound, deleteRunResponse{Message: "Run not found"})
	}

	return c.JSON(http.StatusOK, deleteRunResponse{Message: "Run stopped"})
}
