package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// beginner is the subset of *pgxpool.Pool the cleanup service needs,
// narrowed so tests can substitute a fake transaction source.
type beginner interface {
	Begin(ctx domain.Context) (pgx.Tx, error)
}

// CleanupService removes Documents, Structured records, and Jobs older
// than the configured retention window.
type CleanupService struct {
	pool          beginner
	retentionDays int
}

// NewCleanupService constructs a CleanupService. retentionDays <= 0 falls
// back to a 90-day default.
func NewCleanupService(pool beginner, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{pool: pool, retentionDays: retentionDays}
}

// CleanupOldData deletes documents (and their dependent structured/match
// rows via FK cascade) and jobs older than the retention window.
func (s *CleanupService) CleanupOldData(ctx domain.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedJobs int64
	row := tx.QueryRow(ctx, `WITH deleted AS (DELETE FROM jobs WHERE enqueued_at < $1 RETURNING 1) SELECT count(*) FROM deleted`, cutoff)
	if err := row.Scan(&deletedJobs); err != nil {
		slog.Debug("no jobs to delete", slog.Any("error", err))
	}

	var deletedDocs int64
	row = tx.QueryRow(ctx, `WITH deleted AS (DELETE FROM documents WHERE created_at < $1 RETURNING 1) SELECT count(*) FROM deleted`, cutoff)
	if err := row.Scan(&deletedDocs); err != nil {
		slog.Debug("no documents to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_documents", deletedDocs),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs CleanupOldData once immediately, then on every interval
// tick until ctx is cancelled.
func (s *CleanupService) RunPeriodic(ctx domain.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
