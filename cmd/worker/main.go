// Command worker drains the ingestion and matching task queues.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cvmatch/matching-engine/internal/adapter/ai"
	airal "github.com/cvmatch/matching-engine/internal/adapter/ai/real"
	"github.com/cvmatch/matching-engine/internal/adapter/cache"
	"github.com/cvmatch/matching-engine/internal/adapter/observability"
	"github.com/cvmatch/matching-engine/internal/adapter/parser"
	asynqadp "github.com/cvmatch/matching-engine/internal/adapter/queue/asynq"
	"github.com/cvmatch/matching-engine/internal/adapter/queue/redpanda"
	"github.com/cvmatch/matching-engine/internal/adapter/repo/postgres"
	"github.com/cvmatch/matching-engine/internal/adapter/textextractor/tika"
	qdrantcli "github.com/cvmatch/matching-engine/internal/adapter/vector/qdrant"
	"github.com/cvmatch/matching-engine/internal/app"
	"github.com/cvmatch/matching-engine/internal/config"
	"github.com/cvmatch/matching-engine/internal/embed"
	"github.com/cvmatch/matching-engine/internal/extract"
	"github.com/cvmatch/matching-engine/internal/mailingest"
	"github.com/cvmatch/matching-engine/internal/matching"
	"github.com/cvmatch/matching-engine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	docsRepo := postgres.NewDocumentRepo(pool)
	structuredRepo := postgres.NewStructuredRepo(pool)
	matchRepo := postgres.NewMatchRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)

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

	var vectorStore *qdrantcli.Store
	if cfg.QdrantURL != "" {
		qdrantClient := qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
		vectorStore = qdrantcli.NewStore(qdrantClient)
		if err := vectorStore.EnsureCollections(ctx); err != nil {
			slog.Error("qdrant collection bootstrap failed", slog.Any("error", err))
		}
	}

	extractor := extract.New(aiClient, pairCache, cfg.PromptVersion, cfg.ExtractModel)
	embedder := embed.New(aiClient, pairCache, cfg.EmbeddingsModel)
	matcher := matching.New(matching.Weights{
		Skills:           cfg.WeightSkills,
		Responsibilities: cfg.WeightResponsibility,
		Title:            cfg.WeightTitle,
		Experience:       cfg.WeightExperience,
	}, categoryTable)

	processor := usecase.NewProcessor(docsRepo, structuredRepo, vectorStore, extractor, embedder)
	scorer := usecase.NewScorer(structuredRepo, vectorStore, matchRepo, matcher, cfg.WeightsVersion)
	scorer.Cache = pairCache

	workerPool := asynqadp.NewWorkerPool(cfg.RedisURL, processor, scorer, logger)
	workerPool = workerPool.WithJobs(jobRepo)

	scalerCfg := asynqadp.ScalerConfig{
		Min:        cfg.QueueWorkersMin,
		Max:        cfg.QueueWorkersMax,
		DepthHigh:  cfg.QueueDepthHigh,
		DepthLow:   cfg.QueueDepthLow,
		MemHighPct: cfg.QueueMemHighPct,
		CPUHighPct: cfg.QueueCPUHighPct,
		Interval:   cfg.QueueScaleInterval,
		IdleTimeout: cfg.QueueIdleTimeout,
	}

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

	slog.Info("worker scaling configuration",
		slog.Int("min_workers", scalerCfg.Min),
		slog.Int("max_workers", scalerCfg.Max),
		slog.Duration("scaling_interval", scalerCfg.Interval),
		slog.Duration("idle_timeout", scalerCfg.IdleTimeout))

	for i := 0; i < scalerCfg.Min; i++ {
		if err := workerPool.ScaleUp(ctx); err != nil {
			slog.Error("initial worker scale up failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	scaler := asynqadp.NewScaler(scalerCfg, queue, workerPool, logger)
	go scaler.Run(ctx)

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		slog.Error("redis uri parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	inspector := asynq.NewInspector(redisConnOpt)
	defer inspector.Close()

	dlqManager := asynqadp.NewDLQManager(inspector, jobRepo, logger)
	go dlqManager.RunPeriodic(ctx, cfg.DLQCleanupInterval)

	ager := asynqadp.NewPriorityAger(jobRepo, queue, cfg.PrioritySLALow, cfg.PrioritySLANormal, cfg.PrioritySLAHigh, logger)
	go ager.RunPeriodic(ctx, cfg.PrioritySweepInterval)

	sweeperMaxProcessingAge := 10 * time.Minute
	if v := os.Getenv("E2E_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweeperMaxProcessingAge = d + time.Minute
		}
	}
	if sweeper := app.NewStuckJobSweeper(jobRepo, sweeperMaxProcessingAge, 0); sweeper != nil {
		go sweeper.Run(ctx)
	}

	var mailConsumer *redpanda.MailConsumer
	if cfg.MailEnabled {
		mailConsumer = startMailIngestion(ctx, cfg, pool, docsRepo, queue, jobRepo, logger)
	}

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	workerPool.StopAll()
	if mailConsumer != nil {
		if err := mailConsumer.Close(); err != nil {
			slog.Error("mail consumer close failed", slog.Any("error", err))
		}
	}
	slog.Info("worker stopped")
}

// startMailIngestion wires the mailbox poller (Postgres leader lock +
// processed-set, IMAP mailbox, Redpanda producer) and a Redpanda mail
// consumer that feeds classified attachments into the same ingest pipeline
// /ingest/cv and /ingest/jd use. It runs both in background goroutines and
// returns the consumer so the caller can close it on shutdown.
func startMailIngestion(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, docsRepo *postgres.DocumentRepo, queue *asynqadp.Queue, jobRepo *postgres.JobRepo, logger *slog.Logger) *redpanda.MailConsumer {
	mailProducer, err := redpanda.NewMailProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("mail producer setup failed, mail ingestion disabled", slog.Any("error", err))
		return nil
	}

	var subjectPattern *regexp.Regexp
	if cfg.MailSubjectRegex != "" {
		if p, err := regexp.Compile(cfg.MailSubjectRegex); err == nil {
			subjectPattern = p
		} else {
			slog.Warn("mail subject regex invalid, request-id extraction disabled", slog.Any("error", err))
		}
	}

	mailbox := mailingest.NewIMAPMailbox(mailingest.IMAPConfig{
		Addr:     cfg.MailIMAPAddr,
		Username: cfg.MailIMAPUsername,
		Password: cfg.MailIMAPPassword,
		Mailbox:  cfg.MailIMAPMailbox,
	})
	poller := mailingest.NewPoller(
		mailbox,
		postgres.NewLeaderLock(pool),
		postgres.NewProcessedMailStore(pool),
		mailProducer,
		mailingest.PollerConfig{
			BaseInterval:     cfg.MailPollInterval,
			MaxInterval:      cfg.MailMaxInterval,
			BatchLimit:       cfg.MailBatchLimit,
			RequestIDPattern: subjectPattern,
		},
		logger,
	)
	go poller.Run(ctx)

	ingestSvc := usecase.NewIngestService(docsRepo, queue).WithJobs(jobRepo)
	mailParser := parser.New(tika.New(cfg.TikaURL))

	mailConsumer, err := redpanda.NewMailConsumer(cfg.KafkaBrokers, cfg.MailConsumerGroup, ingestSvc, mailParser, jobRepo, logger)
	if err != nil {
		slog.Error("mail consumer setup failed, mail ingestion disabled", slog.Any("error", err))
		return nil
	}
	go func() {
		if err := mailConsumer.Start(ctx); err != nil {
			slog.Error("mail consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("mail ingestion enabled",
		slog.String("imap_addr", cfg.MailIMAPAddr),
		slog.String("mailbox", cfg.MailIMAPMailbox),
		slog.Duration("poll_interval", cfg.MailPollInterval))
	return mailConsumer
}
