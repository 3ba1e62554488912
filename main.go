package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/offers/internal/api"
	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/config"
	"greendrake/offers/internal/db"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/storage"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/tasks"
	"greendrake/offers/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "offers",
	Short: "Sale offer coordination backend",
	Long: `offers runs the sale offer workflow: the offer state machine, its tasks,
documents, formal requests and messages, the audit timeline and the live
change stream.

Run "offers api" for the HTTP API, "offers worker" for background retries and
notification delivery, or "offers all" for both in one process.`,
}

func modeCmd(mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(mode)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cfg)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		modeCmd("api", "Serve the HTTP API and live streams"),
		modeCmd("worker", "Process timeline retries and notification deliveries"),
		modeCmd("all", "Run the API and the worker in one process"),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore connects the configured record store driver. The returned client
// is nil for the memory driver.
func openStore(cfg *config.Config) (*mongo.Client, store.RecordStore, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Println("WARNING: STORE_DRIVER=memory; records are lost on exit and not shared between processes.")
		return nil, store.NewMemoryStore(), nil
	}
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		return nil, nil, err
	}
	return mongoClient, store.NewMongoStore(mongoDb, cfg.StrictCollections), nil
}

// deliveryNotifier is where notifications finally land: the log, the Redis
// inboxes and optionally a file.
func deliveryNotifier(cfg *config.Config, rdb *redis.Client) notify.Notifier {
	composite := notify.NewCompositeNotifier(notify.NewLogNotifier(), notify.NewRedisNotifier(rdb))
	if cfg.NotifyLog != "" {
		log.Printf("NOTIFY_LOG set to '%s', enabling file notification logger.", cfg.NotifyLog)
		fileNotifier, err := notify.NewFileNotifier(cfg.NotifyLog)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file notifier (NOTIFY_LOG='%s'): %v. Proceeding without file logging.", cfg.NotifyLog, err)
		} else {
			composite.AddNotifier(fileNotifier)
		}
	}
	return composite
}

func run(cfg *config.Config) error {
	mongoClient, baseStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	if cfg.RealtimeBroadcast {
		log.Println("REALTIME_BROADCAST enabled: change events are shared through Redis.")
		baseStore = store.NewBroadcaster(baseStore, redisClient, "")
	}

	recorder := telemetry.NewRecorder()
	recordStore := telemetry.WrapStore(baseStore, recorder)
	offerCache := cache.New(cache.Options{
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
		Observer:   recorder,
	})

	var files services.DocumentStorage
	if cfg.AwsS3Bucket != "" {
		s3Storage, err := storage.NewS3Storage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		files = s3Storage
	} else {
		log.Println("WARNING: AWS_S3_BUCKET is not set; document upload URLs are disabled.")
	}

	svc := services.NewServices(recordStore, offerCache, recorder, files, cfg.DocumentMaxSize())

	asynqClient := tasks.NewAsynqClient(redisClient)
	defer asynqClient.Close()
	taskClient := tasks.NewClient(asynqClient, cfg.TimelineRetryMax)
	svc.Timeline.SetEnqueuer(taskClient)

	redisNotifier := notify.NewRedisNotifier(redisClient)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)
	errChan := make(chan error, 3)

	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(redisNotifier, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("service API: %w", err)
		}
	}()

	var mainApiSrv *http.Server
	var workerSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		router := api.SetupRouter(cfg, api.Deps{
			Services:   svc,
			Subscriber: recordStore,
			Cache:      offerCache,
			Notifier:   tasks.NewQueueNotifier(taskClient),
			Inbox:      redisNotifier,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("main API: %w", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	workerMode := func() {
		processor := tasks.NewTaskProcessor(svc.Timeline, deliveryNotifier(cfg, redisClient))
		workerSrv = tasks.NewServer(redisClient, cfg.WorkerConcurrency)
		if err := workerSrv.Start(processor.Mux()); err != nil {
			errChan <- fmt.Errorf("worker: %w", err)
			return
		}
		fmt.Println("Background worker started.")
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "worker":
		workerMode()
	case "all":
		apiMode()
		workerMode()
	default:
		return fmt.Errorf("invalid run mode: %s", cfg.RunMode)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	case runErr = <-errChan:
		log.Printf("ERROR: %v. Shutting down...", runErr)
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if workerSrv != nil {
		fmt.Println("Shutting down background worker...")
		workerSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
	return runErr
}
