package asynqadp

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmatch/matching-engine/internal/domain"
)

type fakeArchiveInspector struct {
	tasks    map[string][]*asynq.TaskInfo
	ranID    string
	deleted  string
}

func (f *fakeArchiveInspector) ListArchivedTasks(queue string, _ ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.tasks[queue], nil
}
func (f *fakeArchiveInspector) DeleteTaskByID(_, id string) error { f.deleted = id; return nil }
func (f *fakeArchiveInspector) RunTaskByID(_, id string) error    { f.ranID = id; return nil }

type fakeJobRepo struct {
	statuses map[string]domain.JobStatus
}

func (f *fakeJobRepo) Create(domain.Context, domain.Job) (string, error) { return "job-1", nil }
func (f *fakeJobRepo) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, _ *string) error {
	if f.statuses == nil {
		f.statuses = map[string]domain.JobStatus{}
	}
	f.statuses[id] = status
	return nil
}
func (f *fakeJobRepo) Get(domain.Context, string) (domain.Job, error) { return domain.Job{}, nil }
func (f *fakeJobRepo) FindByIdempotencyKey(domain.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (f *fakeJobRepo) IncrementAttempts(domain.Context, string) (int, error) { return 1, nil }
func (f *fakeJobRepo) ListStale(domain.Context, domain.JobStatus, time.Time) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) UpdatePriority(domain.Context, string, domain.Priority) error { return nil }

func TestDLQManager_Sweep_MarksJobsDeadLettered(t *testing.T) {
	t.Parallel()
	insp := &fakeArchiveInspector{tasks: map[string][]*asynq.TaskInfo{
		"default": {{ID: "t1", Type: TaskMatch, LastErr: "timeout waiting for embedder", Retried: 5, MaxRetry: 5}},
	}}
	jobs := &fakeJobRepo{}
	mgr := NewDLQManager(nil, jobs, testLogger())
	mgr.inspector = insp

	found, err := mgr.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "t1", found[0].JobID)
	assert.Equal(t, domain.JobMatch, found[0].OriginalKind)
	assert.True(t, found[0].CanBeReprocessed)
	assert.Equal(t, domain.JobDeadLettered, jobs.statuses["t1"])
}

func TestDLQManager_Sweep_SchemaInvalidIsNotReprocessable(t *testing.T) {
	t.Parallel()
	insp := &fakeArchiveInspector{tasks: map[string][]*asynq.TaskInfo{
		"high": {{ID: "t2", Type: TaskIngest, LastErr: "schema invalid: missing title"}},
	}}
	mgr := NewDLQManager(nil, &fakeJobRepo{}, testLogger())
	mgr.inspector = insp

	found, err := mgr.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].CanBeReprocessed)
}

func TestDLQManager_Requeue(t *testing.T) {
	t.Parallel()
	insp := &fakeArchiveInspector{}
	mgr := NewDLQManager(nil, &fakeJobRepo{}, testLogger())
	mgr.inspector = insp

	require.NoError(t, mgr.Requeue("default", "t1"))
	assert.Equal(t, "t1", insp.ranID)
}

func TestClassifyFailureCode(t *testing.T) {
	assert.Equal(t, "UPSTREAM_TIMEOUT", classifyFailureCode("context deadline exceeded"))
	assert.Equal(t, "UPSTREAM_RATE_LIMIT", classifyFailureCode("rate limit exceeded"))
	assert.Equal(t, "SCHEMA_INVALID", classifyFailureCode("schema invalid: bad json"))
	assert.Equal(t, "INTERNAL", classifyFailureCode(""))
}
