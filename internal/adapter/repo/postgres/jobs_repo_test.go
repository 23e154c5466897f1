package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmatch/matching-engine/internal/adapter/repo/postgres"
	"github.com/cvmatch/matching-engine/internal/domain"
)

func TestJobRepo_Create_GeneratesIDWhenEmpty(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{})
	id, err := repo.Create(context.Background(), domain.Job{Kind: domain.JobIngestCV, Status: domain.JobQueued})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestJobRepo_UpdateStatus_NotFound(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{execTag: zeroRowsTag})
	err := repo.UpdateStatus(context.Background(), "missing", domain.JobFailed, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_UpdateStatus_PropagatesExecError(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{execErr: assert.AnError})
	err := repo.UpdateStatus(context.Background(), "job-1", domain.JobFailed, nil)
	require.Error(t, err)
}

func TestJobRepo_UpdatePriority_NotFound(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{execTag: zeroRowsTag})
	err := repo.UpdatePriority(context.Background(), "missing", domain.PriorityUrgent)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_UpdatePriority_PropagatesExecError(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{execErr: assert.AnError})
	err := repo.UpdatePriority(context.Background(), "job-1", domain.PriorityHigh)
	require.Error(t, err)
}

func TestJobRepo_UpdatePriority_Succeeds(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{})
	err := repo.UpdatePriority(context.Background(), "job-1", domain.PriorityHigh)
	require.NoError(t, err)
}

func TestJobRepo_Get_Found(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	stub := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*dest[0].(*string) = "job-1"
		*dest[1].(*domain.JobKind) = domain.JobMatch
		*dest[2].(*domain.JobStatus) = domain.JobProcessing
		*dest[3].(*domain.Priority) = domain.PriorityHigh
		*dest[4].(*[]byte) = []byte(`{"cv_id":"cv-1"}`)
		idem := "idem-1"
		*dest[5].(**string) = &idem
		*dest[6].(*int) = 1
		*dest[7].(*int) = 5
		*dest[8].(*string) = ""
		*dest[9].(*string) = "req-1"
		*dest[10].(*time.Time) = now
		*dest[11].(*time.Time) = now
		return nil
	}}}
	repo := postgres.NewJobRepo(stub)
	j, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, domain.JobMatch, j.Kind)
	require.NotNil(t, j.IdemKey)
	assert.Equal(t, "idem-1", *j.IdemKey)
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	t.Parallel()
	stub := &poolStub{row: rowStub{scan: func(dest ...any) error { return pgxErrNoRows }}}
	repo := postgres.NewJobRepo(stub)
	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_FindByIdempotencyKey_NotFound(t *testing.T) {
	t.Parallel()
	stub := &poolStub{row: rowStub{scan: func(dest ...any) error { return pgxErrNoRows }}}
	repo := postgres.NewJobRepo(stub)
	_, err := repo.FindByIdempotencyKey(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_IncrementAttempts(t *testing.T) {
	t.Parallel()
	stub := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*dest[0].(*int) = 3
		return nil
	}}}
	repo := postgres.NewJobRepo(stub)
	n, err := repo.IncrementAttempts(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestJobRepo_IncrementAttempts_NotFound(t *testing.T) {
	t.Parallel()
	stub := &poolStub{row: rowStub{scan: func(dest ...any) error { return pgxErrNoRows }}}
	repo := postgres.NewJobRepo(stub)
	_, err := repo.IncrementAttempts(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
