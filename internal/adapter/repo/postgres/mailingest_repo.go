package postgres

import (
	"fmt"
	"hash/fnv"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// LeaderLock implements mailingest.LeaderLock with a Postgres advisory
// lock, so only one of several worker replicas polls the mailbox on a given
// tick; the lock is session-scoped, so it auto-releases if the holder's
// connection dies mid-tick.
type LeaderLock struct{ Pool PgxPool }

// NewLeaderLock constructs a LeaderLock.
func NewLeaderLock(pool PgxPool) *LeaderLock {
	return &LeaderLock{Pool: pool}
}

// TryAcquire attempts a non-blocking advisory lock keyed by the hash of
// name, returning false (not an error) when another session already holds
// it.
func (l *LeaderLock) TryAcquire(ctx domain.Context, name string) (bool, error) {
	var acquired bool
	row := l.Pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey(name))
	if err := row.Scan(&acquired); err != nil {
		return false, fmt.Errorf("op=mailingest.try_acquire: %w", err)
	}
	return acquired, nil
}

// Release drops the advisory lock keyed by name.
func (l *LeaderLock) Release(ctx domain.Context, name string) error {
	if _, err := l.Pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, lockKey(name)); err != nil {
		return fmt.Errorf("op=mailingest.release: %w", err)
	}
	return nil
}

// lockKey hashes an advisory-lock name to the int64 pg_try_advisory_lock
// expects; FNV-1a keeps the session-pool code dependency-free since this is
// not a security-sensitive hash, just a bucket key.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// ProcessedMailStore implements mailingest.ProcessedStore against a
// dedicated table, so a message re-fetched after a crash between
// FetchUnseen and MarkSeen is never enqueued twice.
type ProcessedMailStore struct{ Pool PgxPool }

// NewProcessedMailStore constructs a ProcessedMailStore.
func NewProcessedMailStore(pool PgxPool) *ProcessedMailStore {
	return &ProcessedMailStore{Pool: pool}
}

// IsProcessed reports whether messageID has already been durably handed off
// to the queue.
func (s *ProcessedMailStore) IsProcessed(ctx domain.Context, messageID string) (bool, error) {
	var exists bool
	row := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_mail WHERE message_id=$1)`, messageID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("op=mailingest.is_processed: %w", err)
	}
	return exists, nil
}

// MarkProcessed records messageID as handled; a duplicate insert (the
// message was fetched twice before the first mark committed) is not an
// error since the end state is identical either way.
func (s *ProcessedMailStore) MarkProcessed(ctx domain.Context, messageID string) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO processed_mail (message_id) VALUES ($1) ON CONFLICT (message_id) DO NOTHING`, messageID)
	if err != nil {
		return fmt.Errorf("op=mailingest.mark_processed: %w", err)
	}
	return nil
}
