package routes

import (
	"encoding/json"
	"net/http"

	"graphony/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

type getRunsResponse struct {
	Runs []any `json:"runs"`
}

// GetRunsHandler lists every run of the process, newest first.
func GetRunsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	all := app.Runs.List()
	views := make([]any, 0, len(all))
	for _, run := range all {
		views = append(views, run.View())
	}
	return c.JSON(http.StatusOK, getRunsResponse{Runs: views})
}

type getRunParams struct {
	ID string `param:"id" validate:"required"`
}

// GetRunHandler returns one run by id.
func GetRunHandler(c echo.Context) error {
	params := new(getRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	run, ok := app.Runs.Get(params.ID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}
	return c.JSON(http.StatusOK, run.View())
}

// GetRunEventsHandler streams the run's played voices as NDJSON until the
// run finishes or the client disconnects.
func GetRunEventsHandler(c echo.Context) error {
	params := new(getRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	run, ok := app.Runs.Get(params.ID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}

	events, unsubscribe := run.Subscribe()
	defer unsubscribe()

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())

	reqCtx := c.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-run.Done():
			// Drain what is already buffered before closing the stream.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if err := enc.Encode(ev); err != nil {
						return nil
					}
					c.Response().Flush()
				default:
					return nil
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
