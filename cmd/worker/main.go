package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"graphony/internal/queue"
	"graphony/internal/storage"
	"graphony/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"graphony/pkg/cache"
	"graphony/pkg/logger"
	"graphony/pkg/logger/console"
	"graphony/pkg/samples"
	pgstore "graphony/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)
	payloads := storage.NewSamplePayloadStore(storage.NewSamplePayloadStoreParams{
		Client: s3Client,
	})

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	stats := pgstore.NewCacheStatsDBStore(pgstore.NewCacheStatsDBStoreParams{
		Conn: pgConn,
	})

	// Drop payloads the stats schema no longer knows about, so the bucket
	// and the database agree before the cache rebuilds from them.
	if util.GetEnvBool("RECONCILE_PAYLOADS_ON_STARTUP", false) {
		entries, err := stats.List(ctx)
		if err != nil {
			logger.Fatal("Failed to list cache entries", "err", err)
		}
		known := make(map[int64]struct{}, len(entries))
		for _, entry := range entries {
			known[entry.SampleID] = struct{}{}
		}
		removed, err := payloads.Reconcile(ctx, known)
		if err != nil {
			logger.Error("Payload reconciliation failed", "err", err)
		} else if removed > 0 {
			logger.Info("Removed orphaned sample payloads", "count", removed)
		}
	}

	// Remote sample repository
	fetcher, err := samples.NewClient(samples.NewClientParams{
		BaseURL:               util.GetEnv("SAMPLES_URL"),
		ApiKey:                util.GetEnv("SAMPLES_API_KEY"),
		MaxConcurrentRequests: int64(util.GetEnvNumeric("SAMPLES_MAX_CONCURRENT", 4)),
		RequestsPerSecond:     util.GetEnvNumeric("SAMPLES_RPS", 5),
	})
	if err != nil {
		logger.Fatal("Could not create samples client", "err", err)
	}

	// Cache manager, rebuilt from the persisted stats
	policyName := util.GetEnvString("CACHE_POLICY", "lru")
	policy := cache.NewPolicy(policyName)
	quotaMB := util.GetEnvNumeric("CACHE_QUOTA_MB", 100)
	manager, err := cache.NewManager(ctx, cache.NewManagerParams{
		QuotaBytes: int64(quotaMB) << 20,
		Policy:     policy,
		Fetcher:    fetcher,
		Stats:      stats,
		Payloads:   payloads,
	})
	if err != nil {
		logger.Fatal("Could not create cache manager", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.PreloadQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	if util.GetEnvBool("PRELOAD_ON_STARTUP", false) {
		preloadHotGenres(ctx, manager, policy)
	}
	if util.GetEnvBool("BACKGROUND_LOADING", false) {
		interval := time.Duration(util.GetEnvNumeric("BACKGROUND_LOADING_MINUTES", 10)) * time.Minute
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					preloadHotGenres(ctx, manager, policy)
				}
			}
		}()
	}

	logger.Info("Listening for messages")

	// Single consumer channel with prefetch=1 so one preload job runs at
	// a time; each job fans out its fetches internally.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.PreloadQueue:
					processingErr = queue.ProcessPreloadMessage(ctx, manager, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				stats := manager.Stats()
				logger.Info(
					"Cache state",
					"entries", stats.EntryCount,
					"size_bytes", stats.SizeBytes,
					"quota_bytes", stats.QuotaBytes,
					"policy", stats.Policy,
				)

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// preloadHotGenres warms the cache for genres the predictive policy
// considers likely to be used next. Policies without a usage profile
// contribute nothing.
func preloadHotGenres(ctx context.Context, manager *cache.Manager, policy cache.Policy) {
	predictive, ok := policy.(*cache.PredictivePolicy)
	if !ok {
		return
	}
	threshold := util.GetEnvNumeric("PRELOAD_GENRE_THRESHOLD", 0) / 100
	if threshold <= 0 {
		threshold = 0.2
	}
	limit := int(util.GetEnvNumeric("PRELOAD_LIMIT", 25))

	for _, genre := range predictive.HotGenres(threshold) {
		if ctx.Err() != nil {
			return
		}
		if _, err := manager.Preload(ctx, genre, limit); err != nil {
			logger.Warn("Background preload failed", "genre", genre, "err", err)
		}
	}
}
