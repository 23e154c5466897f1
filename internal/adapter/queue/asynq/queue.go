// Package asynqadp implements domain.Queue and its worker-side consumer on
// top of hibiken/asynq (Redis-backed task queue).
package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cvmatch/matching-engine/internal/adapter/observability"
	"github.com/cvmatch/matching-engine/internal/domain"
)

// Task type names dispatched through the asynq ServeMux.
const (
	TaskIngest    = "document:ingest"
	TaskMatch     = "match:score"
	TaskBulkMatch = "match:bulk"
)

// enqueuer is the subset of *asynq.Client exercised by Queue, narrowed so
// tests can substitute a fake instead of talking to Redis.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// inspector is the subset of *asynq.Inspector exercised by Queue.Depth and
// Queue.Promote.
type inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTaskByID(queue, id string) error
}

// Queue implements domain.Queue on top of an asynq.Client/Inspector pair.
type Queue struct {
	client    enqueuer
	inspector inspector
	closer    func() error
}

// New constructs a Queue from a Redis connection URL.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	client := asynq.NewClient(opt)
	insp := asynq.NewInspector(opt)
	return &Queue{
		client:    client,
		inspector: insp,
		closer: func() error {
			errC := client.Close()
			errI := insp.Close()
			if errC != nil {
				return errC
			}
			return errI
		},
	}, nil
}

// NewWithClient builds a Queue around a caller-supplied client/inspector
// pair, letting tests exercise enqueue/depth logic without a live Redis.
func NewWithClient(client enqueuer, insp inspector) *Queue {
	return &Queue{client: client, inspector: insp, closer: func() error { return nil }}
}

// Close releases the underlying Redis connections.
func (q *Queue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

// asynqQueueName maps a domain.Priority to one of the four named queues
// the worker server is configured to poll with weighted concurrency.
func asynqQueueName(p domain.Priority) string {
	switch p {
	case domain.PriorityUrgent:
		return "urgent"
	case domain.PriorityHigh:
		return "high"
	case domain.PriorityLow:
		return "low"
	default:
		return "default"
	}
}

func (q *Queue) enqueue(ctx domain.Context, taskType string, payload []byte, priority domain.Priority, idemKey string) (string, error) {
	opts := []asynq.Option{
		asynq.Queue(asynqQueueName(priority)),
		asynq.MaxRetry(5),
		asynq.Retention(24 * time.Hour),
	}
	if idemKey != "" {
		opts = append(opts, asynq.TaskID(idemKey))
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			// Same idempotency key already enqueued or in flight; the
			// caller's idemKey is itself a stable handle for polling.
			return idemKey, nil
		}
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	observability.EnqueueJob(taskType)
	return info.ID, nil
}

// EnqueueIngest implements domain.Queue.
func (q *Queue) EnqueueIngest(ctx domain.Context, payload domain.IngestTaskPayload, priority domain.Priority, idemKey string) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal ingest payload: %v", domain.ErrInternal, err)
	}
	return q.enqueue(ctx, TaskIngest, b, priority, idemKey)
}

// EnqueueMatch implements domain.Queue.
func (q *Queue) EnqueueMatch(ctx domain.Context, payload domain.MatchTaskPayload, priority domain.Priority, idemKey string) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal match payload: %v", domain.ErrInternal, err)
	}
	return q.enqueue(ctx, TaskMatch, b, priority, idemKey)
}

// EnqueueBulkMatch implements domain.Queue.
func (q *Queue) EnqueueBulkMatch(ctx domain.Context, payload domain.BulkMatchTaskPayload, priority domain.Priority, idemKey string) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal bulk match payload: %v", domain.ErrInternal, err)
	}
	return q.enqueue(ctx, TaskBulkMatch, b, priority, idemKey)
}

// Depth implements domain.Queue, summing pending+active+scheduled tasks
// across all four priority queues for back-pressure and readiness checks.
func (q *Queue) Depth(_ domain.Context) (int, error) {
	total := 0
	for _, name := range []string{"urgent", "high", "default", "low"} {
		info, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return 0, fmt.Errorf("queue info %s: %w", name, err)
		}
		total += info.Pending + info.Active + info.Scheduled + info.Retry
	}
	return total, nil
}

// Promote implements domain.Queue: it moves a still-pending task from its
// current priority queue to the target queue, preserving its task ID,
// type and payload so domain.Job/{id} lookups keep working after the move.
// A task already picked up for processing (no longer found pending under
// from) is left alone rather than erroring, since it is about to finish.
func (q *Queue) Promote(_ domain.Context, taskID string, from, to domain.Priority) error {
	fromQueue, toQueue := asynqQueueName(from), asynqQueueName(to)
	if fromQueue == toQueue {
		return nil
	}
	info, err := q.inspector.GetTaskInfo(fromQueue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("promote %s: lookup task: %w", taskID, err)
	}
	if info.State != asynq.TaskStatePending && info.State != asynq.TaskStateScheduled {
		return nil
	}
	opts := []asynq.Option{
		asynq.Queue(toQueue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(info.MaxRetry),
		asynq.Retention(24 * time.Hour),
	}
	if _, err := q.client.EnqueueContext(context.Background(), asynq.NewTask(info.Type, info.Payload), opts...); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("promote %s: re-enqueue onto %s: %w", taskID, toQueue, err)
	}
	if err := q.inspector.DeleteTaskByID(fromQueue, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return fmt.Errorf("promote %s: delete from %s: %w", taskID, fromQueue, err)
	}
	observability.EnqueueJob(info.Type)
	return nil
}
