// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// JobRepo persists and loads background Jobs from PostgreSQL using a
// minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new Job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, kind, status, priority, payload, idempotency_key, attempts, max_attempts, error, request_id, enqueued_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, j.Kind, j.Status, j.Priority, j.Payload, j.IdemKey, j.Attempts, j.MaxAttempts, j.Error, j.RequestID, now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// UpdateStatus updates a Job's status and optional error message.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE jobs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// Get loads a Job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, kind, status, priority, payload, idempotency_key, attempts, max_attempts, COALESCE(error,''), request_id, enqueued_at, updated_at
	      FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// FindByIdempotencyKey loads a Job by idempotency key.
func (r *JobRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByIdempotencyKey")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, kind, status, priority, payload, idempotency_key, attempts, max_attempts, COALESCE(error,''), request_id, enqueued_at, updated_at
	      FROM jobs WHERE idempotency_key=$1 ORDER BY enqueued_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, key)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", err)
	}
	return j, nil
}

// IncrementAttempts atomically bumps a Job's attempt counter and returns the
// new value, used by the worker before a retry to enforce MaxAttempts.
func (r *JobRepo) IncrementAttempts(ctx domain.Context, id string) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.IncrementAttempts")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET attempts = attempts + 1, updated_at=$2 WHERE id=$1 RETURNING attempts`
	row := r.Pool.QueryRow(ctx, q, id, time.Now().UTC())
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=job.increment_attempts: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=job.increment_attempts: %w", err)
	}
	return attempts, nil
}

// ListStale returns jobs in status whose updated_at predates updatedBefore,
// used by the stuck-job sweeper to find work abandoned by a crashed worker.
func (r *JobRepo) ListStale(ctx domain.Context, status domain.JobStatus, updatedBefore time.Time) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStale")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, kind, status, priority, payload, idempotency_key, attempts, max_attempts, COALESCE(error,''), request_id, enqueued_at, updated_at
	      FROM jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT 500`
	rows, err := r.Pool.Query(ctx, q, status, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_stale: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	return jobs, nil
}

// UpdatePriority persists a job's new priority tier, used by the priority
// ager after promoting an aged job.
func (r *JobRepo) UpdatePriority(ctx domain.Context, id string, priority domain.Priority) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdatePriority")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET priority=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_priority: %w", domain.ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var idem *string
	if err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Priority, &j.Payload, &idem, &j.Attempts, &j.MaxAttempts, &j.Error, &j.RequestID, &j.EnqueuedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	j.IdemKey = idem
	return j, nil
}
