// Command server starts the matching engine's HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvmatch/matching-engine/internal/adapter/ai"
	airal "github.com/cvmatch/matching-engine/internal/adapter/ai/real"
	"github.com/cvmatch/matching-engine/internal/adapter/cache"
	httpserver "github.com/cvmatch/matching-engine/internal/adapter/httpserver"
	"github.com/cvmatch/matching-engine/internal/adapter/observability"
	"github.com/cvmatch/matching-engine/internal/adapter/parser"
	asynqadp "github.com/cvmatch/matching-engine/internal/adapter/queue/asynq"
	"github.com/cvmatch/matching-engine/internal/adapter/repo/postgres"
	tikaext "github.com/cvmatch/matching-engine/internal/adapter/textextractor/tika"
	qdrantcli "github.com/cvmatch/matching-engine/internal/adapter/vector/qdrant"
	"github.com/cvmatch/matching-engine/internal/app"
	"github.com/cvmatch/matching-engine/internal/config"
	"github.com/cvmatch/matching-engine/internal/matching"
	"github.com/cvmatch/matching-engine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	docsRepo := postgres.NewDocumentRepo(pool)
	structuredRepo := postgres.NewStructuredRepo(pool)
	matchRepo := postgres.NewMatchRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	categoryTable, err := config.LoadCategoryTable(cfg.CategoryTablePath)
	if err != nil {
		slog.Error("category table load failed", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpt)
	pairCache := cache.New(redisClient, cfg.EmbedCacheSize, cfg.CacheLocalTTL, cfg.CacheSharedTTL)

	aiBase := airal.New(cfg)
	aiClient := ai.NewEmbedCache(aiBase, cfg.EmbedCacheSize)

	qdrantClient := qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	vectorStore := qdrantcli.NewStore(qdrantClient)
	if err := vectorStore.EnsureCollections(ctx); err != nil {
		slog.Error("qdrant collection bootstrap failed", slog.Any("error", err))
	}

	tikaClient := tikaext.New(cfg.TikaURL)
	docParser := parser.New(tikaClient)

	matcher := matching.New(matching.Weights{
		Skills:           cfg.WeightSkills,
		Responsibilities: cfg.WeightResponsibility,
		Title:            cfg.WeightTitle,
		Experience:       cfg.WeightExperience,
	}, categoryTable)

	queue, err := asynqadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	ingestSvc := usecase.NewIngestService(docsRepo, queue).WithJobs(jobRepo).WithQueueDepthMax(cfg.QueueDepthMax)
	matchSvc := usecase.NewMatchService(docsRepo, queue).WithJobs(jobRepo).WithQueueDepthMax(cfg.QueueDepthMax)
	scorer := usecase.NewScorer(structuredRepo, vectorStore, matchRepo, matcher, cfg.WeightsVersion)
	scorer.Cache = pairCache
	readiness := usecase.NewReadinessService(queue, vectorStore, aiClient)

	srv := httpserver.NewServer(docsRepo, structuredRepo, jobRepo, docParser, ingestSvc, matchSvc, scorer, readiness, cfg.MaxUploadMB)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
