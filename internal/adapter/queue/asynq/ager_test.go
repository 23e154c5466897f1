package asynqadp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmatch/matching-engine/internal/domain"
)

type fakeAgerJobRepo struct {
	byPriority map[domain.Priority][]domain.Job
	promoted   map[string]domain.Priority
	listErr    error
}

func (f *fakeAgerJobRepo) Create(domain.Context, domain.Job) (string, error) { return "", nil }
func (f *fakeAgerJobRepo) UpdateStatus(domain.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (f *fakeAgerJobRepo) Get(domain.Context, string) (domain.Job, error) { return domain.Job{}, nil }
func (f *fakeAgerJobRepo) FindByIdempotencyKey(domain.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (f *fakeAgerJobRepo) IncrementAttempts(domain.Context, string) (int, error) { return 0, nil }
func (f *fakeAgerJobRepo) ListStale(_ domain.Context, status domain.JobStatus, _ time.Time) ([]domain.Job, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Job
	for _, jobs := range f.byPriority {
		for _, j := range jobs {
			if j.Status == status {
				out = append(out, j)
			}
		}
	}
	return out, nil
}
func (f *fakeAgerJobRepo) UpdatePriority(_ domain.Context, id string, p domain.Priority) error {
	if f.promoted == nil {
		f.promoted = map[string]domain.Priority{}
	}
	f.promoted[id] = p
	return nil
}

type fakePromoteQueue struct{ fakeDepthQueue }

func (f *fakePromoteQueue) Promote(domain.Context, string, domain.Priority, domain.Priority) error {
	return nil
}

func TestPriorityAger_PromotesJobsPastSLA(t *testing.T) {
	t.Parallel()
	jobs := &fakeAgerJobRepo{byPriority: map[domain.Priority][]domain.Job{
		domain.PriorityNormal: {{ID: "job-normal", Status: domain.JobQueued, Priority: domain.PriorityNormal}},
		domain.PriorityHigh:   {{ID: "job-high", Status: domain.JobQueued, Priority: domain.PriorityHigh}},
	}}
	queue := &fakePromoteQueue{}
	ager := NewPriorityAger(jobs, queue, time.Minute, time.Minute, time.Minute, testLogger())

	n, err := ager.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.PriorityHigh, jobs.promoted["job-normal"])
	assert.Equal(t, domain.PriorityUrgent, jobs.promoted["job-high"])
}

func TestPriorityAger_SkipsDisabledTier(t *testing.T) {
	t.Parallel()
	jobs := &fakeAgerJobRepo{byPriority: map[domain.Priority][]domain.Job{
		domain.PriorityLow: {{ID: "job-low", Status: domain.JobQueued, Priority: domain.PriorityLow}},
	}}
	queue := &fakePromoteQueue{}
	ager := NewPriorityAger(jobs, queue, 0, time.Minute, time.Minute, testLogger())

	n, err := ager.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, jobs.promoted)
}

func TestPriorityAger_NeverPromotesPastUrgent(t *testing.T) {
	t.Parallel()
	jobs := &fakeAgerJobRepo{byPriority: map[domain.Priority][]domain.Job{
		domain.PriorityHigh: {{ID: "job-high", Status: domain.JobQueued, Priority: domain.PriorityUrgent}},
	}}
	queue := &fakePromoteQueue{}
	ager := NewPriorityAger(jobs, queue, time.Minute, time.Minute, time.Minute, testLogger())

	n, err := ager.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPriorityAger_ListStaleErrorPropagates(t *testing.T) {
	t.Parallel()
	jobs := &fakeAgerJobRepo{listErr: assert.AnError}
	queue := &fakePromoteQueue{}
	ager := NewPriorityAger(jobs, queue, time.Minute, time.Minute, time.Minute, testLogger())

	_, err := ager.Sweep(context.Background())
	require.Error(t, err)
}
