package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmatch/matching-engine/internal/domain"
)

type fakeMatchRepo struct {
	saved domain.Match
	has   bool
}

func (f *fakeMatchRepo) Upsert(_ domain.Context, m domain.Match) error {
	f.saved = m
	f.has = true
	return nil
}
func (f *fakeMatchRepo) Get(_ domain.Context, cvID, jdID, weightsVersion string) (domain.Match, error) {
	if !f.has || f.saved.CVID != cvID || f.saved.JDID != jdID || f.saved.WeightsVersion != weightsVersion {
		return domain.Match{}, domain.ErrNotFound
	}
	return f.saved, nil
}

// fakeCache is an in-memory domain.Cache for exercising MatchSync's
// cache-hit/miss/write-through paths without a real Redis.
type fakeCache struct {
	store map[string][]byte
	gets  int
	sets  int
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string][]byte{}} }

func (c *fakeCache) Get(_ domain.Context, namespace, key string) ([]byte, bool, error) {
	c.gets++
	b, ok := c.store[namespace+"/"+key]
	return b, ok, nil
}

func (c *fakeCache) Set(_ domain.Context, namespace, key string, value []byte, _ int) error {
	c.sets++
	c.store[namespace+"/"+key] = value
	return nil
}

func (c *fakeCache) Del(_ domain.Context, namespace, key string) error {
	delete(c.store, namespace+"/"+key)
	return nil
}

type stubMatcher struct {
	breakdown domain.ScoreBreakdown
	overall   float64
	err       error
}

func (s stubMatcher) Score(domain.Context, domain.Embeddings, domain.Embeddings, domain.Structured, domain.Structured) (domain.ScoreBreakdown, float64, error) {
	return s.breakdown, s.overall, s.err
}

func TestMatchService_EnqueueMatch(t *testing.T) {
	t.Parallel()
	svc := NewMatchService(newFakeDocRepo(), &fakeQueue{})
	jobID, err := svc.EnqueueMatch(context.Background(), "cv-1", "jd-1", "")
	require.NoError(t, err)
	assert.Equal(t, "job-match", jobID)
}

func TestMatchService_EnqueueMatch_RequiresBothIDs(t *testing.T) {
	t.Parallel()
	svc := NewMatchService(newFakeDocRepo(), &fakeQueue{})
	_, err := svc.EnqueueMatch(context.Background(), "", "jd-1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMatchService_EnqueueBulkMatch_ChunksByBulkMatchChunkSize(t *testing.T) {
	t.Parallel()
	svc := NewMatchService(newFakeDocRepo(), &fakeQueue{})
	cvIDs := make([]string, domain.BulkMatchChunkSize+5)
	for i := range cvIDs {
		cvIDs[i] = "cv"
	}
	jobIDs, err := svc.EnqueueBulkMatch(context.Background(), "jd-1", cvIDs, "")
	require.NoError(t, err)
	assert.Len(t, jobIDs, 2)
}

func TestMatchService_EnqueueMatch_BackpressureRejectsAtQueueDepthMax(t *testing.T) {
	t.Parallel()
	svc := NewMatchService(newFakeDocRepo(), &fakeQueue{depth: 5000}).WithQueueDepthMax(5000)
	_, err := svc.EnqueueMatch(context.Background(), "cv-1", "jd-1", "")
	assert.ErrorIs(t, err, domain.ErrBackpressure)
}

func TestMatchService_EnqueueBulkMatch_BackpressureRejectsAtQueueDepthMax(t *testing.T) {
	t.Parallel()
	svc := NewMatchService(newFakeDocRepo(), &fakeQueue{depth: 9000}).WithQueueDepthMax(5000)
	_, err := svc.EnqueueBulkMatch(context.Background(), "jd-1", []string{"cv-1"}, "")
	assert.ErrorIs(t, err, domain.ErrBackpressure)
}

func TestScorer_ProcessMatch(t *testing.T) {
	t.Parallel()
	structured := &fakeStructuredRepo{saved: domain.Structured{DocumentID: "cv-1"}}
	vectors := &fakeVectorStore{put: domain.Embeddings{DocumentID: "cv-1", Dim: domain.EmbeddingDim}}
	matches := &fakeMatchRepo{}
	matcher := stubMatcher{overall: 87.5}

	scorer := NewScorer(structured, vectors, matches, matcher, "v1")
	err := scorer.ProcessMatch(context.Background(), domain.MatchTaskPayload{CVID: "cv-1", JDID: "cv-1"})
	require.NoError(t, err)
	assert.Equal(t, 87.5, matches.saved.CompositeScore)
	assert.Equal(t, "v1", matches.saved.WeightsVersion)
}

func TestScorer_ProcessMatch_MissingEmbeddingsReturnsNotScorable(t *testing.T) {
	t.Parallel()
	structured := &fakeStructuredRepo{}
	vectors := &fakeVectorStore{} // Get() on unknown id returns ErrNotFound
	matches := &fakeMatchRepo{}
	scorer := NewScorer(structured, vectors, matches, stubMatcher{}, "v1")

	err := scorer.ProcessMatch(context.Background(), domain.MatchTaskPayload{CVID: "missing-cv", JDID: "missing-jd"})
	assert.ErrorIs(t, err, domain.ErrNotScorable)
}

func TestScorer_ProcessBulkMatch_ContinuesPastFailures(t *testing.T) {
	t.Parallel()
	structured := &fakeStructuredRepo{saved: domain.Structured{DocumentID: "cv-ok"}}
	vectors := &fakeVectorStore{put: domain.Embeddings{DocumentID: "cv-ok", Dim: domain.EmbeddingDim}}
	matches := &fakeMatchRepo{}
	scorer := NewScorer(structured, vectors, matches, stubMatcher{overall: 50}, "v1")

	err := scorer.ProcessBulkMatch(context.Background(), domain.BulkMatchTaskPayload{JDID: "cv-ok", CVIDs: []string{"missing", "cv-ok"}})
	require.Error(t, err) // first (missing) CV fails
	assert.Equal(t, 50.0, matches.saved.CompositeScore) // but the second still got scored and persisted
}

func TestScorer_MatchSync_RequiresBothIDs(t *testing.T) {
	t.Parallel()
	scorer := NewScorer(&fakeStructuredRepo{}, &fakeVectorStore{}, &fakeMatchRepo{}, stubMatcher{}, "v1")
	_, err := scorer.MatchSync(context.Background(), "", "jd-1")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestScorer_MatchSync_ComputesOnDoubleMissAndWritesThrough(t *testing.T) {
	t.Parallel()
	structured := &fakeStructuredRepo{saved: domain.Structured{DocumentID: "cv-1"}}
	vectors := &fakeVectorStore{put: domain.Embeddings{DocumentID: "cv-1", Dim: domain.EmbeddingDim}}
	matches := &fakeMatchRepo{}
	cache := newFakeCache()
	scorer := NewScorer(structured, vectors, matches, stubMatcher{overall: 91}, "v1")
	scorer.Cache = cache

	m, err := scorer.MatchSync(context.Background(), "cv-1", "cv-1")
	require.NoError(t, err)
	assert.Equal(t, 91.0, m.CompositeScore)
	assert.Equal(t, 1, cache.sets) // freshly computed result written through
}

func TestScorer_MatchSync_ReturnsFromCacheWithoutRecomputing(t *testing.T) {
	t.Parallel()
	matches := &fakeMatchRepo{}
	cache := newFakeCache()
	scorer := NewScorer(&fakeStructuredRepo{}, &fakeVectorStore{}, matches, stubMatcher{}, "v1")
	scorer.Cache = cache

	cached := domain.Match{CVID: "cv-1", JDID: "jd-1", WeightsVersion: "v1", CompositeScore: 42}
	b, _ := json.Marshal(cached)
	require.NoError(t, cache.Set(context.Background(), "match", matchCacheKey("cv-1", "jd-1", "v1"), b, 1800))

	m, err := scorer.MatchSync(context.Background(), "cv-1", "jd-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, m.CompositeScore)
	// no vectors/structured wired, so a cache miss would have errored instead
}

func TestScorer_MatchSync_ReturnsFromRepoOnCacheMiss(t *testing.T) {
	t.Parallel()
	matches := &fakeMatchRepo{}
	require.NoError(t, matches.Upsert(context.Background(), domain.Match{CVID: "cv-1", JDID: "jd-1", WeightsVersion: "v1", CompositeScore: 77}))
	cache := newFakeCache()
	scorer := NewScorer(&fakeStructuredRepo{}, &fakeVectorStore{}, matches, stubMatcher{}, "v1")
	scorer.Cache = cache

	m, err := scorer.MatchSync(context.Background(), "cv-1", "jd-1")
	require.NoError(t, err)
	assert.Equal(t, 77.0, m.CompositeScore)
	assert.Equal(t, 1, cache.sets) // backfilled into cache from the repo hit
}
