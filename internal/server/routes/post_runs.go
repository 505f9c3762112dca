package routes

import (
	"errors"
	"net/http"

	"graphony/internal/config"
	"graphony/internal/runs"
	"graphony/internal/server/middleware"
	"graphony/pkg/docgraph"
	"graphony/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

type createRunParams struct {
	Config    pipeline.EngineConfig `json:"config"`
	Documents []docgraph.Document   `json:"documents" validate:"required,min=1,dive"`
	Links     []docgraph.Link       `json:"links"`
}

type createRunResponse struct {
	Message string    `json:"message"`
	Run     runs.View `json:"run,omitempty"`
}

// CreateRunHandler composes the submitted document graph and starts
// playback. Configuration problems come back as 400 before anything is
// scheduled.
func CreateRunHandler(c echo.Context) error {
	params := new(createRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	snapshot := docgraph.NewSnapshot(docgraph.NewSnapshotParams{
		Documents: params.Documents,
		Links:     params.Links,
	})

	cfg := config.Merge(app.EngineDefaults, params.Config)
	run, err := app.Runs.Start(snapshot, cfg)
	if err != nil {
		var confErr *pipeline.ConfigurationError
		if errors.As(err, &confErr) {
			return c.JSON(http.StatusBadRequest, createRunResponse{Message: confErr.Error()})
		}
		return c.JSON(http.StatusInternalServerError, createRunResponse{Message: "Failed to start run"})
	}

	return c.JSON(http.StatusCreated, createRunResponse{
		Message: "Run started",
		Run:     run.View(),
	})
}
