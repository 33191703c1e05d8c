// Package main wires together the docuagent service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/ai"
	"github.com/anshm02/docuagent-sub001/internal/api"
	"github.com/anshm02/docuagent-sub001/internal/auth"
	"github.com/anshm02/docuagent-sub001/internal/budget"
	"github.com/anshm02/docuagent-sub001/internal/clock/system"
	"github.com/anshm02/docuagent-sub001/internal/config"
	"github.com/anshm02/docuagent-sub001/internal/dedup"
	"github.com/anshm02/docuagent-sub001/internal/discovery"
	"github.com/anshm02/docuagent-sub001/internal/dispatcher"
	"github.com/anshm02/docuagent-sub001/internal/docs"
	"github.com/anshm02/docuagent-sub001/internal/driver"
	"github.com/anshm02/docuagent-sub001/internal/engine"
	"github.com/anshm02/docuagent-sub001/internal/hash/sha256"
	"github.com/anshm02/docuagent-sub001/internal/id/uuid"
	"github.com/anshm02/docuagent-sub001/internal/logging"
	"github.com/anshm02/docuagent-sub001/internal/metrics"
	"github.com/anshm02/docuagent-sub001/internal/orchestrator"
	"github.com/anshm02/docuagent-sub001/internal/progress"
	"github.com/anshm02/docuagent-sub001/internal/progress/sinks"
	memorypublisher "github.com/anshm02/docuagent-sub001/internal/publisher/memory"
	pubsubpublisher "github.com/anshm02/docuagent-sub001/internal/publisher/pubsub"
	queueMemory "github.com/anshm02/docuagent-sub001/internal/queue/memory"
	"github.com/anshm02/docuagent-sub001/internal/storage/gcs"
	memoryStorage "github.com/anshm02/docuagent-sub001/internal/storage/memory"
	"github.com/anshm02/docuagent-sub001/internal/storage/postgres"
	"github.com/anshm02/docuagent-sub001/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// A .env file is a local-dev convenience; deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	var (
		jobStore      docs.JobStore
		screenStore   docs.ScreenStore
		progressStore docs.ProgressStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres pool init failed", zap.Error(err))
		}
		defer pool.Close()
		if jobStore, err = postgres.NewJobStoreWithPool(pool); err != nil {
			logger.Fatal("job store init failed", zap.Error(err))
		}
		if screenStore, err = postgres.NewScreenStoreWithPool(pool); err != nil {
			logger.Fatal("screen store init failed", zap.Error(err))
		}
		if progressStore, err = postgres.NewProgressStoreWithPool(pool); err != nil {
			logger.Fatal("progress store init failed", zap.Error(err))
		}
	} else {
		jobStore = memoryStorage.NewJobStore()
		screenStore = memoryStorage.NewScreenStore()
		progressStore = memoryStorage.NewProgressStore()
	}

	var blobStore docs.BlobStore
	if cfg.Storage.GCSBucket != "" {
		gcsClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := gcsClient.Close(); closeErr != nil {
				logger.Warn("gcs client close failed", zap.Error(closeErr))
			}
		}()
		if blobStore, err = gcs.New(gcsClient, gcs.Config{Bucket: cfg.Storage.GCSBucket}); err != nil {
			logger.Fatal("blob store init failed", zap.Error(err))
		}
	} else {
		blobStore = memoryStorage.NewBlobStore()
	}

	var pub docs.Publisher
	if cfg.PubSub.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psClient.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()
		pub = pubsubpublisher.New(psClient)
	} else {
		pub = memorypublisher.New()
	}

	// Balances are provisioned out of band; the in-memory store is the
	// placeholder until billing lands.
	credits := memoryStorage.NewCreditStore(nil)

	provider, err := ai.NewFromVendor(cfg.AI.Vendor, cfg.AI.Model, logger.Named("ai"))
	if err != nil {
		logger.Fatal("ai provider init failed", zap.Error(err))
	}

	sessions := driver.NewFactory(driver.Config{
		Headless:          cfg.Crawl.Headless,
		UserAgent:         cfg.Crawl.UserAgent,
		NavigationTimeout: time.Duration(cfg.Crawl.NavTimeoutSeconds) * time.Second,
	}, provider, logger.Named("driver"))
	authHandler := auth.New(logger.Named("auth"))
	filter := dedup.New(cfg.Crawl.DedupThreshold, hasher)
	sweeper := discovery.NewSweeper(discovery.SweepConfig{
		PageTimeout:    time.Duration(cfg.Sweep.PageTimeoutSeconds) * time.Second,
		RequestsPerSec: cfg.Sweep.RequestsPerSec,
		UserAgent:      cfg.Crawl.UserAgent,
	}, logger.Named("sweep"))
	nav := discovery.NewNavDiscoverer(provider, logger.Named("discovery"))

	m, err := metrics.New(nil)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("progress metrics init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewStoreSink(progressStore, logger.Named("progress")),
		promSink,
	)

	eng := engine.New(engine.Config{
		MaxScreens:     cfg.Crawl.MaxScreens,
		DOMTokenBudget: cfg.Crawl.DOMTokenBudget,
		SettleIdle:     time.Duration(cfg.Crawl.SettleIdleSeconds) * time.Second,
		SettleMax:      time.Duration(cfg.Crawl.SettleMaxSeconds) * time.Second,
		Viewport:       docs.Viewport{Width: cfg.Crawl.ViewportWidth, Height: cfg.Crawl.ViewportHeight},
	}, engine.Deps{
		Sessions: sessions,
		Auth:     authHandler,
		Dedup:    filter,
		Screens:  screenStore,
		Blobs:    blobStore,
		Notifier: hub,
		IDs:      idGen,
		Clock:    clock,
		Logger:   logger.Named("engine"),
	})

	budgetCtl := budget.New(budget.DefaultCostModel, credits, logger.Named("budget"))

	orch := orchestrator.New(orchestrator.Config{
		MaxJourneys:          cfg.Pipeline.MaxJourneys,
		ScreensPerJourney:    cfg.Pipeline.ScreensPerJourney,
		AnalysisConcurrency:  cfg.Pipeline.AnalysisConcurrency,
		QualityFlagThreshold: cfg.Pipeline.QualityFlagThreshold,
		CompletionTopic:      cfg.PubSub.CompletionTopic,
		FailureTopic:         cfg.PubSub.FailureTopic,
	}, orchestrator.Deps{
		Jobs:      jobStore,
		Screens:   screenStore,
		Credits:   credits,
		Blobs:     blobStore,
		Budget:    budgetCtl,
		Code:      provider,
		Product:   provider,
		Planner:   provider,
		Screener:  provider,
		Composer:  provider,
		Sweeper:   sweeper,
		Nav:       nav,
		Sessions:  sessions,
		Auth:      authHandler,
		Crawler:   eng,
		Notifier:  hub,
		Publisher: pub,
		IDs:       idGen,
		Clock:     clock,
		Logger:    logger.Named("orchestrator"),
	})

	queue := queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			orch,
			m,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(
		jobStore,
		progressStore,
		budgetCtl,
		dispatch,
		idGen,
		clock,
		m.Handler(),
		logger.Named("api"),
		api.Config{
			RequestTimeout: cfg.ServerTimeout(),
			MaxScreensCap:  cfg.Crawl.MaxScreens,
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           m.Middleware(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	sessions.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
