package asynqadp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// agedTiers lists the priorities the PriorityAger ever promotes out of;
// PriorityUrgent is the ceiling and is never a source tier.
var agedTiers = []domain.Priority{domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh}

// PriorityAger implements strict-priority-with-aging: a job still queued
// past its tier's SLA is promoted one priority level, so a sustained
// backlog at Normal/Low never starves a job indefinitely behind a stream
// of fresh High-priority work.
type PriorityAger struct {
	jobs  domain.JobRepository
	queue domain.Queue
	sla   map[domain.Priority]time.Duration
	log   *slog.Logger
}

// NewPriorityAger constructs a PriorityAger. A zero SLA for a tier disables
// aging out of it.
func NewPriorityAger(jobs domain.JobRepository, queue domain.Queue, slaLow, slaNormal, slaHigh time.Duration, log *slog.Logger) *PriorityAger {
	return &PriorityAger{
		jobs:  jobs,
		queue: queue,
		sla: map[domain.Priority]time.Duration{
			domain.PriorityLow:    slaLow,
			domain.PriorityNormal: slaNormal,
			domain.PriorityHigh:   slaHigh,
		},
		log: log,
	}
}

// Sweep promotes every still-queued job whose tier's SLA has elapsed since
// it was last touched, returning how many jobs it promoted.
func (a *PriorityAger) Sweep(ctx context.Context) (int, error) {
	promoted := 0
	for _, tier := range agedTiers {
		sla := a.sla[tier]
		if sla <= 0 {
			continue
		}
		stale, err := a.jobs.ListStale(ctx, domain.JobQueued, time.Now().Add(-sla))
		if err != nil {
			return promoted, fmt.Errorf("list stale %v-priority jobs: %w", tier, err)
		}
		for _, job := range stale {
			if job.Priority != tier {
				// ListStale doesn't filter by priority; only age jobs still
				// sitting at the tier this pass is sweeping.
				continue
			}
			next := job.Priority.Promoted()
			if next == job.Priority {
				continue
			}
			if err := a.queue.Promote(ctx, job.ID, job.Priority, next); err != nil {
				a.log.Warn("priority ager: promote failed", "job_id", job.ID, "error", err)
				continue
			}
			if err := a.jobs.UpdatePriority(ctx, job.ID, next); err != nil {
				a.log.Warn("priority ager: persist promoted priority failed", "job_id", job.ID, "error", err)
				continue
			}
			a.log.Info("priority ager: promoted aged job", "job_id", job.ID, "from", tier, "to", next)
			promoted++
		}
	}
	return promoted, nil
}

// RunPeriodic sweeps for aged jobs every interval until ctx is cancelled.
func (a *PriorityAger) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.log.Error("priority ager sweep failed", "error", err)
			}
		}
	}
}
