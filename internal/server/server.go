package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"graphony/internal/config"
	"graphony/internal/queue"
	"graphony/internal/runs"
	mid "graphony/internal/server/middleware"
	"graphony/internal/storage"
	"graphony/internal/util"
	"graphony/pkg/cache"
	"graphony/pkg/logger"
	"graphony/pkg/samples"
	pgstore "graphony/pkg/store/pgx"
	"graphony/pkg/synth"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		logger.Fatal("Failed to init migrations", "err", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, []string{queue.PreloadQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3 := storage.NewS3Client(ctx)
	payloads := storage.NewSamplePayloadStore(storage.NewSamplePayloadStoreParams{
		Client: s3,
	})
	stats := pgstore.NewCacheStatsDBStore(pgstore.NewCacheStatsDBStoreParams{
		Conn: conn,
	})

	fetcher, err := samples.NewClient(samples.NewClientParams{
		BaseURL:               util.GetEnv("SAMPLES_URL"),
		ApiKey:                util.GetEnv("SAMPLES_API_KEY"),
		MaxConcurrentRequests: int64(util.GetEnvNumeric("SAMPLES_MAX_CONCURRENT", 4)),
		RequestsPerSecond:     util.GetEnvNumeric("SAMPLES_RPS", 5),
	})
	if err != nil {
		logger.Fatal("Failed to create samples client", "err", err)
	}

	quotaMB := util.GetEnvNumeric("CACHE_QUOTA_MB", 100)
	cacheManager, err := cache.NewManager(ctx, cache.NewManagerParams{
		QuotaBytes: int64(quotaMB) << 20,
		Policy:     cache.NewPolicy(util.GetEnvString("CACHE_POLICY", "lru")),
		Fetcher:    fetcher,
		Stats:      stats,
		Payloads:   payloads,
	})
	if err != nil {
		logger.Fatal("Failed to create cache manager", "err", err)
	}

	fileCfg, err := config.Load(util.GetEnvString("CONFIG_FILE", "config.yaml"))
	if err != nil {
		logger.Fatal("Failed to load config file", "err", err)
	}

	registry := runs.NewRegistry(runs.NewRegistryParams{
		Backend: synth.NewLogBackend(),
		Cache:   cacheManager,
	})

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	app := &mid.App{
		DBConn:         conn,
		Queue:          ch,
		Key:            &k,
		Cache:          cacheManager,
		Runs:           registry,
		EngineDefaults: fileCfg.Engine,
		MasterAPIKey:   masterAPIKey,
		MasterUserID:   masterUserID,
		MasterUserRole: masterUserRole,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
