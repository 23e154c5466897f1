// Package usecase contains application business logic that orchestrates
// domain ports: request-time services (enqueue ingestion/matching) and the
// worker-side processors the queue dispatches to.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/observability"
)

// IngestService creates a Document record and enqueues it for background
// extraction/embedding, deduplicating on content hash the way the teacher's
// EvaluateService deduplicates on idempotency key.
type IngestService struct {
	Docs  domain.DocumentRepository
	Queue domain.Queue
	// Jobs is optional: when set, a bookkeeping Job row is persisted
	// alongside the queue enqueue so GET /job/{id} can report progress.
	Jobs domain.JobRepository
	// QueueDepthMax is the back-pressure ceiling (config.QueueDepthMax).
	// Zero disables the check.
	QueueDepthMax int
}

// NewIngestService constructs an IngestService.
func NewIngestService(docs domain.DocumentRepository, queue domain.Queue) IngestService {
	return IngestService{Docs: docs, Queue: queue}
}

// WithJobs returns a copy of s that also persists job bookkeeping rows.
func (s IngestService) WithJobs(jobs domain.JobRepository) IngestService {
	s.Jobs = jobs
	return s
}

// WithQueueDepthMax returns a copy of s that rejects new enqueues once the
// queue's depth reaches max, returning domain.ErrBackpressure.
func (s IngestService) WithQueueDepthMax(max int) IngestService {
	s.QueueDepthMax = max
	return s
}

// checkBackpressure compares the queue's current depth against Qmax,
// returning domain.ErrBackpressure when the queue cannot absorb more work.
func checkBackpressure(ctx domain.Context, q domain.Queue, max int) error {
	if max <= 0 {
		return nil
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		return nil
	}
	if depth >= max {
		return fmt.Errorf("%w: queue depth %d at or above max %d", domain.ErrBackpressure, depth, max)
	}
	return nil
}

// Enqueue persists doc (expected Status: domain.DocumentReceived) and
// enqueues its extraction/embedding task, returning the document id and the
// background job id tracking that task. If a Document with the same content
// hash and kind was already fully embedded, its id is returned with an empty
// job id, since there is no pipeline run to track.
func (s IngestService) Enqueue(ctx domain.Context, doc domain.Document, idemKey string) (string, string, error) {
	lg := observability.LoggerFromContext(ctx)

	if doc.ContentHash != "" {
		if existing, err := s.Docs.FindByContentHash(ctx, doc.ContentHash); err == nil && existing.ID != "" && existing.Kind == doc.Kind {
			if existing.Status == domain.DocumentEmbedded {
				lg.Info("ingest content-hash hit, skipping re-ingestion",
					slog.String("document_id", existing.ID), slog.String("kind", string(existing.Kind)))
				return existing.ID, "", nil
			}
		}
	}

	if err := checkBackpressure(ctx, s.Queue, s.QueueDepthMax); err != nil {
		lg.Warn("ingest rejected by back-pressure", slog.String("kind", string(doc.Kind)))
		return "", "", err
	}

	id, err := s.Docs.Create(ctx, doc)
	if err != nil {
		lg.Error("ingest failed to create document", slog.Any("error", err))
		return "", "", fmt.Errorf("create document: %w", err)
	}

	payload := domain.IngestTaskPayload{
		DocumentID: id,
		Kind:       doc.Kind,
		RequestID:  observability.RequestIDFromContext(ctx),
	}
	jobID, err := s.Queue.EnqueueIngest(ctx, payload, domain.PriorityNormal, idemKey)
	if err != nil {
		_ = s.Docs.UpdateStatus(ctx, id, domain.DocumentFailed, []string{"enqueue failed: " + err.Error()})
		lg.Error("ingest failed to enqueue", slog.String("document_id", id), slog.Any("error", err))
		return "", "", fmt.Errorf("enqueue ingest: %w", err)
	}
	if s.Jobs != nil {
		payloadBytes, _ := json.Marshal(payload)
		job := domain.Job{ID: jobID, Kind: domain.JobIngestCV, Status: domain.JobQueued, Priority: domain.PriorityNormal, Payload: payloadBytes, RequestID: payload.RequestID}
		if doc.Kind == domain.DocumentJD {
			job.Kind = domain.JobIngestJD
		}
		if idemKey != "" {
			job.IdemKey = &idemKey
		}
		if _, err := s.Jobs.Create(ctx, job); err != nil {
			lg.Warn("ingest job bookkeeping row failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	lg.Info("ingest enqueued", slog.String("document_id", id), slog.String("job_id", jobID), slog.String("kind", string(doc.Kind)))
	return id, jobID, nil
}

// Processor runs the worker-side ingestion pipeline: extract structured
// fields, embed them, store the vector bundle, and advance the Document's
// status at each stage so /doc/{id} reflects progress.
type Processor struct {
	Docs       domain.DocumentRepository
	Structured domain.StructuredRepository
	Vectors    domain.VectorStore
	Extractor  domain.Extractor
	Embedder   domain.Embedder
}

// NewProcessor constructs a Processor.
func NewProcessor(docs domain.DocumentRepository, structured domain.StructuredRepository, vectors domain.VectorStore, extractor domain.Extractor, embedder domain.Embedder) Processor {
	return Processor{Docs: docs, Structured: structured, Vectors: vectors, Extractor: extractor, Embedder: embedder}
}

// ProcessIngest implements the extract -> embed -> store pipeline for a
// single IngestTaskPayload.
func (p Processor) ProcessIngest(ctx domain.Context, payload domain.IngestTaskPayload) error {
	lg := observability.LoggerFromContext(ctx)

	doc, err := p.Docs.Get(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", payload.DocumentID, err)
	}

	structured, err := p.Extractor.Extract(ctx, payload.Kind, doc.RawText)
	if err != nil {
		_ = p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentFailed, append(doc.Warnings, "extract: "+err.Error()))
		lg.Error("extract failed", slog.String("document_id", doc.ID), slog.Any("error", err))
		return fmt.Errorf("extract: %w", err)
	}
	structured.DocumentID = doc.ID
	if err := p.Structured.Upsert(ctx, structured); err != nil {
		_ = p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentFailed, append(doc.Warnings, "persist structured: "+err.Error()))
		return fmt.Errorf("persist structured: %w", err)
	}
	if err := p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentExtracted, doc.Warnings); err != nil {
		return fmt.Errorf("update status extracted: %w", err)
	}

	embeddings, err := p.Embedder.Embed(ctx, structured)
	if err != nil {
		_ = p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentFailed, append(doc.Warnings, "embed: "+err.Error()))
		lg.Error("embed failed", slog.String("document_id", doc.ID), slog.Any("error", err))
		return fmt.Errorf("embed: %w", err)
	}
	embeddings.DocumentID = doc.ID
	if err := p.Vectors.Put(ctx, payload.Kind, embeddings); err != nil {
		_ = p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentFailed, append(doc.Warnings, "store embeddings: "+err.Error()))
		return fmt.Errorf("store embeddings: %w", err)
	}

	if err := p.Docs.UpdateStatus(ctx, doc.ID, domain.DocumentEmbedded, doc.Warnings); err != nil {
		return fmt.Errorf("update status embedded: %w", err)
	}
	lg.Info("ingest processed", slog.String("document_id", doc.ID), slog.String("kind", string(payload.Kind)))
	return nil
}
