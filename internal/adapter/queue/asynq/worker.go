package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cvmatch/matching-engine/internal/adapter/observability"
	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/usecase"
)

var tracer = otel.Tracer("queue.worker")

// Worker drives an asynq.Server, dispatching decoded task payloads to the
// ingestion processor and match scorer.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	log       *slog.Logger
	processor usecase.Processor
	scorer    usecase.Scorer
	// Jobs is optional: when set, the bookkeeping Job row created at
	// enqueue time is advanced to processing/completed/failed so
	// GET /job/{id} reflects real progress, not just "queued".
	Jobs domain.JobRepository
}

// WithJobs sets jobs on w, so that it also updates job bookkeeping status,
// and returns w.
func (w *Worker) WithJobs(jobs domain.JobRepository) *Worker {
	w.Jobs = jobs
	return w
}

func (w *Worker) markProcessing(ctx context.Context) {
	if w.Jobs == nil {
		return
	}
	if id, ok := asynq.GetTaskID(ctx); ok {
		_ = w.Jobs.UpdateStatus(ctx, id, domain.JobProcessing, nil)
	}
}

func (w *Worker) markDone(ctx context.Context, status domain.JobStatus, errMsg *string) {
	if w.Jobs == nil {
		return
	}
	if id, ok := asynq.GetTaskID(ctx); ok {
		_ = w.Jobs.UpdateStatus(ctx, id, status, errMsg)
	}
}

// WorkerConfig holds the Redis URL and total concurrency for the asynq server;
// the per-queue weights are fixed in NewWorker.
type WorkerConfig struct {
	RedisURL    string
	Concurrency int
}

// NewWorker wires an asynq server with queue weights urgent > high > default
// > low so match requests never starve behind a backlog of bulk ingestion,
// and an aged-up urgent job always runs ahead of fresh high-priority work.
func NewWorker(cfg WorkerConfig, processor usecase.Processor, scorer usecase.Scorer, log *slog.Logger) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			"urgent":  10,
			"high":    6,
			"default": 3,
			"low":     1,
		},
	})

	w := &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		log:       log,
		processor: processor,
		scorer:    scorer,
	}
	w.mux.HandleFunc(TaskIngest, w.handleIngest)
	w.mux.HandleFunc(TaskMatch, w.handleMatch)
	w.mux.HandleFunc(TaskBulkMatch, w.handleBulkMatch)
	return w, nil
}

// Start runs the asynq server until ctx is cancelled or an unrecoverable
// error occurs.
func (w *Worker) Start(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() { errC <- w.server.Run(w.mux) }()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return nil
	case err := <-errC:
		return err
	}
}

// Stop gracefully shuts the asynq server down, waiting for in-flight tasks.
func (w *Worker) Stop() {
	w.server.Shutdown()
}

func (w *Worker) handleIngest(ctx context.Context, task *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "queue.worker.ingest", trace.WithAttributes(attribute.String("task.type", task.Type())))
	defer span.End()

	var payload domain.IngestTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: decode ingest payload: %v", asynq.SkipRetry, err)
	}
	observability.StartProcessingJob(TaskIngest)
	w.markProcessing(ctx)
	if err := w.processor.ProcessIngest(ctx, payload); err != nil {
		observability.FailJob(TaskIngest)
		msg := err.Error()
		w.markDone(ctx, domain.JobFailed, &msg)
		w.log.Error("ingest task failed", "document_id", payload.DocumentID, "error", err)
		return err
	}
	observability.CompleteJob(TaskIngest)
	w.markDone(ctx, domain.JobCompleted, nil)
	return nil
}

func (w *Worker) handleMatch(ctx context.Context, task *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "queue.worker.match", trace.WithAttributes(attribute.String("task.type", task.Type())))
	defer span.End()

	var payload domain.MatchTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: decode match payload: %v", asynq.SkipRetry, err)
	}
	observability.StartProcessingJob(TaskMatch)
	w.markProcessing(ctx)
	if err := w.scorer.ProcessMatch(ctx, payload); err != nil {
		if errors.Is(err, domain.ErrNotScorable) {
			observability.CompleteJob(TaskMatch)
			w.markDone(ctx, domain.JobCompleted, nil)
			w.log.Warn("match not scorable", "cv_id", payload.CVID, "jd_id", payload.JDID)
			return nil
		}
		observability.FailJob(TaskMatch)
		msg := err.Error()
		w.markDone(ctx, domain.JobFailed, &msg)
		w.log.Error("match task failed", "cv_id", payload.CVID, "jd_id", payload.JDID, "error", err)
		return err
	}
	observability.CompleteJob(TaskMatch)
	w.markDone(ctx, domain.JobCompleted, nil)
	return nil
}

func (w *Worker) handleBulkMatch(ctx context.Context, task *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "queue.worker.bulk_match", trace.WithAttributes(attribute.String("task.type", task.Type())))
	defer span.End()

	var payload domain.BulkMatchTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: decode bulk match payload: %v", asynq.SkipRetry, err)
	}
	observability.StartProcessingJob(TaskBulkMatch)
	w.markProcessing(ctx)
	if err := w.scorer.ProcessBulkMatch(ctx, payload); err != nil {
		observability.FailJob(TaskBulkMatch)
		msg := err.Error()
		w.markDone(ctx, domain.JobFailed, &msg)
		w.log.Error("bulk match task failed", "jd_id", payload.JDID, "count", len(payload.CVIDs), "error", err)
		return err
	}
	observability.CompleteJob(TaskBulkMatch)
	w.markDone(ctx, domain.JobCompleted, nil)
	return nil
}
