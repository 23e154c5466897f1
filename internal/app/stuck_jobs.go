package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvmatch/matching-engine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	span.SetAttributes(
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	jobs, err := s.jobs.ListStale(ctx, domain.JobProcessing, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
		return
	}

	totalMarkedFailed := 0
	for _, j := range jobs {
		jobCtx, jobSpan := tracer.Start(ctx, "StuckJobSweeper.markFailed")
		jobSpan.SetAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("job.status", string(j.Status)),
		)
		msg := fmt.Sprintf("job processing exceeded maximum age %v; marking as failed by sweeper", s.maxProcessingAge)
		if err := s.jobs.UpdateStatus(jobCtx, j.ID, domain.JobFailed, &msg); err != nil {
			jobSpan.RecordError(err)
			slog.Error("stuck job sweep failed to update job status", slog.String("job_id", j.ID), slog.Any("error", err))
		} else {
			totalMarkedFailed++
		}
		jobSpan.End()
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", len(jobs)),
		attribute.Int("jobs.total_marked_failed", totalMarkedFailed),
	)
}
