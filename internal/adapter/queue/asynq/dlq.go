package asynqadp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// classifyFailureCode maps a job error message to a stable error code,
// shared between DLQ bookkeeping and whatever surfaces job status to callers.
func classifyFailureCode(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return "INTERNAL"
	}
	switch {
	case strings.Contains(s, "schema invalid"), strings.Contains(s, "invalid json"),
		strings.Contains(s, "out of range"), strings.Contains(s, "not scorable"):
		return "SCHEMA_INVALID"
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "invalid argument"):
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}

// archiveInspector is the subset of *asynq.Inspector exercised by DLQManager,
// narrowed so tests can substitute a fake instead of talking to Redis.
type archiveInspector interface {
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTaskByID(queue, id string) error
	RunTaskByID(queue, id string) error
}

// DLQManager sweeps asynq's archived (exhausted-retry) tasks into explicit
// domain.DLQJob records so operators have a queryable dead-letter view, and
// supports requeueing a dead-lettered job for reprocessing.
type DLQManager struct {
	inspector archiveInspector
	jobs      domain.JobRepository
	log       *slog.Logger
}

// NewDLQManager constructs a DLQManager around a live asynq.Inspector.
func NewDLQManager(insp *asynq.Inspector, jobs domain.JobRepository, log *slog.Logger) *DLQManager {
	return &DLQManager{inspector: insp, jobs: jobs, log: log}
}

// Sweep scans every priority queue's archived set and marks the
// corresponding domain.Job dead-lettered, returning the DLQJob records found.
func (m *DLQManager) Sweep(ctx domain.Context) ([]domain.DLQJob, error) {
	var found []domain.DLQJob
	for _, queue := range []string{"urgent", "high", "default", "low"} {
		tasks, err := m.inspector.ListArchivedTasks(queue)
		if err != nil {
			if err == asynq.ErrQueueNotFound {
				continue
			}
			return found, fmt.Errorf("list archived tasks %s: %w", queue, err)
		}
		for _, task := range tasks {
			dlq := domain.DLQJob{
				JobID:           task.ID,
				OriginalPayload: task.Payload,
				FailureReason:   task.LastErr,
				MovedToDLQAt:    time.Now().UTC(),
				CanBeReprocessed: classifyFailureCode(task.LastErr) != "INVALID_ARGUMENT" &&
					classifyFailureCode(task.LastErr) != "SCHEMA_INVALID",
				RetryInfo: domain.RetryInfo{
					AttemptCount: task.Retried,
					MaxAttempts:  task.MaxRetry,
					LastError:    task.LastErr,
					RetryStatus:  domain.RetryStatusDLQ,
					UpdatedAt:    time.Now().UTC(),
				},
			}
			switch task.Type {
			case TaskIngest:
				dlq.OriginalKind = domain.JobIngestCV
			case TaskMatch:
				dlq.OriginalKind = domain.JobMatch
			case TaskBulkMatch:
				dlq.OriginalKind = domain.JobBulkMatch
			}
			if err := m.jobs.UpdateStatus(ctx, task.ID, domain.JobDeadLettered, &dlq.FailureReason); err != nil {
				m.log.Warn("dlq sweep: failed to mark job dead-lettered", "job_id", task.ID, "error", err)
			}
			found = append(found, dlq)
		}
	}
	return found, nil
}

// Requeue moves an archived task back onto its originating queue for
// reprocessing, used for DLQ entries an operator has decided to retry.
func (m *DLQManager) Requeue(queueName, taskID string) error {
	if err := m.inspector.RunTaskByID(queueName, taskID); err != nil {
		return fmt.Errorf("requeue dlq task %s/%s: %w", queueName, taskID, err)
	}
	return nil
}

// Purge permanently deletes an archived task, used for DLQ entries an
// operator has decided are unrecoverable.
func (m *DLQManager) Purge(queueName, taskID string) error {
	if err := m.inspector.DeleteTaskByID(queueName, taskID); err != nil {
		return fmt.Errorf("purge dlq task %s/%s: %w", queueName, taskID, err)
	}
	return nil
}

// RunPeriodic sweeps for newly archived tasks every interval until ctx is
// cancelled, logging what it finds.
func (m *DLQManager) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			found, err := m.Sweep(ctx)
			if err != nil {
				m.log.Error("dlq sweep failed", "error", err)
				continue
			}
			if len(found) > 0 {
				m.log.Warn("dlq sweep found dead-lettered jobs", "count", len(found))
			}
		}
	}
}
