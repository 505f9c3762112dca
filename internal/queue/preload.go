package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"graphony/pkg/cache"
	"graphony/pkg/logger"
)

// PreloadQueue carries sample preload jobs from the API to the worker.
const PreloadQueue = "preload_queue"

// PreloadJobMsg is one preload request: warm the cache with samples of a
// genre, up to Limit payloads.
type PreloadJobMsg struct {
	Message  string `json:"message"`
	GenreTag string `json:"genre_tag"`
	Limit    int    `json:"limit"`
}

// ProcessPreloadMessage handles one preload job. Individual sample
// failures are logged inside the cache manager; only search failures and
// malformed jobs bubble up for retry.
func ProcessPreloadMessage(
	ctx context.Context,
	manager *cache.Manager,
	msg string,
) error {
	data := new(PreloadJobMsg)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	if data.GenreTag == "" {
		return fmt.Errorf("preload job without genre tag")
	}
	limit := data.Limit
	if limit <= 0 {
		limit = 25
	}

	loaded, err := manager.Preload(ctx, data.GenreTag, limit)
	if err != nil {
		return fmt.Errorf("preload for genre %q failed: %w", data.GenreTag, err)
	}

	logger.Info("[Queue] Preload job done", "genre", data.GenreTag, "loaded", loaded)
	return nil
}
