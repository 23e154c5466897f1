package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/observability"
)

// matchCacheTTLSeconds is the namespace TTL for the "match" cache bucket:
// thirty minutes. The embedder and extractor namespaces set their own,
// longer, fixed TTLs.
const matchCacheTTLSeconds = 30 * 60

// MatchService enqueues single-pair and bulk matching requests.
type MatchService struct {
	Docs  domain.DocumentRepository
	Queue domain.Queue
	// Jobs is optional: when set, a bookkeeping Job row is persisted
	// alongside each queue enqueue so GET /job/{id} can report progress.
	Jobs domain.JobRepository
	// QueueDepthMax is the back-pressure ceiling (config.QueueDepthMax).
	// Zero disables the check.
	QueueDepthMax int
}

// NewMatchService constructs a MatchService.
func NewMatchService(docs domain.DocumentRepository, queue domain.Queue) MatchService {
	return MatchService{Docs: docs, Queue: queue}
}

// WithJobs returns a copy of s that also persists job bookkeeping rows.
func (s MatchService) WithJobs(jobs domain.JobRepository) MatchService {
	s.Jobs = jobs
	return s
}

// WithQueueDepthMax returns a copy of s that rejects new enqueues once the
// queue's depth reaches max, returning domain.ErrBackpressure.
func (s MatchService) WithQueueDepthMax(max int) MatchService {
	s.QueueDepthMax = max
	return s
}

func (s MatchService) recordJob(ctx domain.Context, jobID string, kind domain.JobKind, priority domain.Priority, payload []byte, requestID, idemKey string) {
	if s.Jobs == nil {
		return
	}
	job := domain.Job{ID: jobID, Kind: kind, Status: domain.JobQueued, Priority: priority, Payload: payload, RequestID: requestID}
	if idemKey != "" {
		job.IdemKey = &idemKey
	}
	if _, err := s.Jobs.Create(ctx, job); err != nil {
		observability.LoggerFromContext(ctx).Warn("match job bookkeeping row failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

// EnqueueMatch requires both ids to be non-empty and enqueues a single
// CV×JD match task; it does not check that the documents exist.
func (s MatchService) EnqueueMatch(ctx domain.Context, cvID, jdID, idemKey string) (string, error) {
	lg := observability.LoggerFromContext(ctx)
	if cvID == "" || jdID == "" {
		return "", fmt.Errorf("%w: cv_id and jd_id required", domain.ErrInvalidArgument)
	}
	if err := checkBackpressure(ctx, s.Queue, s.QueueDepthMax); err != nil {
		lg.Warn("match rejected by back-pressure", slog.String("cv_id", cvID), slog.String("jd_id", jdID))
		return "", err
	}
	payload := domain.MatchTaskPayload{CVID: cvID, JDID: jdID, RequestID: observability.RequestIDFromContext(ctx)}
	jobID, err := s.Queue.EnqueueMatch(ctx, payload, domain.PriorityNormal, idemKey)
	if err != nil {
		lg.Error("enqueue match failed", slog.String("cv_id", cvID), slog.String("jd_id", jdID), slog.Any("error", err))
		return "", fmt.Errorf("enqueue match: %w", err)
	}
	if b, err := json.Marshal(payload); err == nil {
		s.recordJob(ctx, jobID, domain.JobMatch, domain.PriorityNormal, b, payload.RequestID, idemKey)
	}
	return jobID, nil
}

// EnqueueBulkMatch chunks cvIDs into domain.BulkMatchChunkSize-sized tasks
// against a single JD, so one slow or failing CV never blocks the whole
// batch and a worker crash only loses one chunk's progress.
func (s MatchService) EnqueueBulkMatch(ctx domain.Context, jdID string, cvIDs []string, idemKey string) ([]string, error) {
	lg := observability.LoggerFromContext(ctx)
	if jdID == "" || len(cvIDs) == 0 {
		return nil, fmt.Errorf("%w: jd_id and at least one cv_id required", domain.ErrInvalidArgument)
	}
	if err := checkBackpressure(ctx, s.Queue, s.QueueDepthMax); err != nil {
		lg.Warn("bulk match rejected by back-pressure", slog.String("jd_id", jdID), slog.Int("cv_count", len(cvIDs)))
		return nil, err
	}

	requestID := observability.RequestIDFromContext(ctx)
	var jobIDs []string
	for start := 0; start < len(cvIDs); start += domain.BulkMatchChunkSize {
		end := start + domain.BulkMatchChunkSize
		if end > len(cvIDs) {
			end = len(cvIDs)
		}
		chunkKey := idemKey
		if chunkKey != "" {
			chunkKey = fmt.Sprintf("%s:%d", idemKey, start/domain.BulkMatchChunkSize)
		}
		payload := domain.BulkMatchTaskPayload{JDID: jdID, CVIDs: cvIDs[start:end], RequestID: requestID}
		jobID, err := s.Queue.EnqueueBulkMatch(ctx, payload, domain.PriorityLow, chunkKey)
		if err != nil {
			lg.Error("enqueue bulk match chunk failed", slog.Int("chunk_start", start), slog.Any("error", err))
			return jobIDs, fmt.Errorf("enqueue bulk match chunk %d: %w", start, err)
		}
		if b, err := json.Marshal(payload); err == nil {
			s.recordJob(ctx, jobID, domain.JobBulkMatch, domain.PriorityLow, b, requestID, chunkKey)
		}
		jobIDs = append(jobIDs, jobID)
	}
	lg.Info("bulk match enqueued", slog.String("jd_id", jdID), slog.Int("cv_count", len(cvIDs)), slog.Int("chunks", len(jobIDs)))
	return jobIDs, nil
}

// Scorer runs the worker-side scoring pipeline: pull both sides'
// Embeddings/Structured records, score them, and persist the Match.
type Scorer struct {
	Structured     domain.StructuredRepository
	Vectors        domain.VectorStore
	Matches        domain.MatchRepository
	Matcher        domain.Matcher
	WeightsVersion string
	// Cache is consulted by MatchSync before recomputing a pair that was
	// already scored recently; it is optional and may be left nil.
	Cache domain.Cache
}

// NewScorer constructs a Scorer.
func NewScorer(structured domain.StructuredRepository, vectors domain.VectorStore, matches domain.MatchRepository, matcher domain.Matcher, weightsVersion string) Scorer {
	return Scorer{Structured: structured, Vectors: vectors, Matches: matches, Matcher: matcher, WeightsVersion: weightsVersion}
}

func matchCacheKey(cvID, jdID, weightsVersion string) string {
	return jdID + ":" + cvID + ":" + weightsVersion
}

// MatchSync scores one CV×JD pair on the request path: the "match" cache
// namespace is checked first, then the persisted Match (a prior async or
// synchronous score for the same pair/weights), and only on a double miss
// is the composite actually recomputed via ProcessMatch. A fresh result is
// written through to both the cache and the Match repository.
func (s Scorer) MatchSync(ctx domain.Context, cvID, jdID string) (domain.Match, error) {
	if cvID == "" || jdID == "" {
		return domain.Match{}, fmt.Errorf("%w: cv_id and jd_id required", domain.ErrInvalidArgument)
	}
	key := matchCacheKey(cvID, jdID, s.WeightsVersion)

	if s.Cache != nil {
		if b, ok, err := s.Cache.Get(ctx, "match", key); err == nil && ok {
			var m domain.Match
			if jsonErr := json.Unmarshal(b, &m); jsonErr == nil {
				return m, nil
			}
		}
	}

	if m, err := s.Matches.Get(ctx, cvID, jdID, s.WeightsVersion); err == nil {
		s.cacheMatch(ctx, key, m)
		return m, nil
	}

	if err := s.ProcessMatch(ctx, domain.MatchTaskPayload{CVID: cvID, JDID: jdID, RequestID: observability.RequestIDFromContext(ctx)}); err != nil {
		return domain.Match{}, err
	}
	m, err := s.Matches.Get(ctx, cvID, jdID, s.WeightsVersion)
	if err != nil {
		return domain.Match{}, fmt.Errorf("load scored match: %w", err)
	}
	s.cacheMatch(ctx, key, m)
	return m, nil
}

// cacheMatch is a best-effort write-through: a cache failure is logged and
// swallowed since correctness depends only on the Match repository.
func (s Scorer) cacheMatch(ctx domain.Context, key string, m domain.Match) {
	if s.Cache == nil {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, "match", key, b, matchCacheTTLSeconds); err != nil {
		observability.LoggerFromContext(ctx).Warn("match cache set failed", slog.Any("error", err))
	}
}

// ProcessMatch scores one CV×JD pair and persists the result. A
// domain.ErrNotScorable (missing embeddings on either side) is returned
// as-is so the job lands in the DLQ rather than being silently dropped.
func (s Scorer) ProcessMatch(ctx domain.Context, payload domain.MatchTaskPayload) error {
	lg := observability.LoggerFromContext(ctx)

	cvEmb, err := s.Vectors.Get(ctx, domain.DocumentCV, payload.CVID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: cv %s embeddings", domain.ErrNotScorable, payload.CVID)
		}
		return fmt.Errorf("load cv embeddings: %w", err)
	}
	jdEmb, err := s.Vectors.Get(ctx, domain.DocumentJD, payload.JDID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: jd %s embeddings", domain.ErrNotScorable, payload.JDID)
		}
		return fmt.Errorf("load jd embeddings: %w", err)
	}
	cvStruct, err := s.Structured.GetByDocumentID(ctx, payload.CVID)
	if err != nil {
		return fmt.Errorf("load cv structured: %w", err)
	}
	jdStruct, err := s.Structured.GetByDocumentID(ctx, payload.JDID)
	if err != nil {
		return fmt.Errorf("load jd structured: %w", err)
	}

	breakdown, overall, err := s.Matcher.Score(ctx, cvEmb, jdEmb, cvStruct, jdStruct)
	if err != nil {
		lg.Warn("match not scorable", slog.String("cv_id", payload.CVID), slog.String("jd_id", payload.JDID), slog.Any("error", err))
		return err
	}

	match := domain.Match{
		CVID:           payload.CVID,
		JDID:           payload.JDID,
		CompositeScore: overall,
		Breakdown:      breakdown,
		WeightsVersion: s.WeightsVersion,
		ComputedAt:     time.Now().UTC(),
	}
	if err := s.Matches.Upsert(ctx, match); err != nil {
		return fmt.Errorf("persist match: %w", err)
	}
	lg.Info("match scored", slog.String("cv_id", payload.CVID), slog.String("jd_id", payload.JDID), slog.Float64("overall", overall))
	return nil
}

// ProcessBulkMatch scores every CV in the chunk against the JD, continuing
// past per-CV failures so one bad document doesn't sink the whole chunk; it
// returns the first error encountered (if any) after attempting all pairs.
func (s Scorer) ProcessBulkMatch(ctx domain.Context, payload domain.BulkMatchTaskPayload) error {
	var firstErr error
	for _, cvID := range payload.CVIDs {
		err := s.ProcessMatch(ctx, domain.MatchTaskPayload{CVID: cvID, JDID: payload.JDID, RequestID: payload.RequestID})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
