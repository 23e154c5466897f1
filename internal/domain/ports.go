package domain

import "time"

// DocumentRepository persists Document records.
type DocumentRepository interface {
	Create(ctx Context, d Document) (string, error)
	Get(ctx Context, id string) (Document, error)
	UpdateStatus(ctx Context, id string, status DocumentStatus, warnings []string) error
	FindByContentHash(ctx Context, hash string) (Document, error)
	Delete(ctx Context, id string) error
}

// StructuredRepository persists extractor output.
type StructuredRepository interface {
	Upsert(ctx Context, s Structured) error
	GetByDocumentID(ctx Context, docID string) (Structured, error)
}

// MatchRepository persists computed match results for caching/replay.
type MatchRepository interface {
	Upsert(ctx Context, m Match) error
	Get(ctx Context, cvID, jdID, weightsVersion string) (Match, error)
}

// JobRepository persists background job bookkeeping.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errMsg *string) error
	Get(ctx Context, id string) (Job, error)
	FindByIdempotencyKey(ctx Context, key string) (Job, error)
	IncrementAttempts(ctx Context, id string) (int, error)
	// ListStale returns jobs in status whose last update is older than
	// updatedBefore, used by the stuck-job sweeper to find abandoned
	// in-flight work after a worker crash, and by the priority ager to find
	// jobs that have sat queued past their tier's SLA.
	ListStale(ctx Context, status JobStatus, updatedBefore time.Time) ([]Job, error)
	// UpdatePriority persists a job's priority after the ager promotes it,
	// and refreshes updated_at so the same row is not re-promoted on the
	// next sweep before the queue has caught up.
	UpdatePriority(ctx Context, id string, priority Priority) error
}

// Queue enqueues background work and reports depth for the auto-scaling
// supervisor.
type Queue interface {
	EnqueueIngest(ctx Context, payload IngestTaskPayload, priority Priority, idemKey string) (string, error)
	EnqueueMatch(ctx Context, payload MatchTaskPayload, priority Priority, idemKey string) (string, error)
	EnqueueBulkMatch(ctx Context, payload BulkMatchTaskPayload, priority Priority, idemKey string) (string, error)
	Depth(ctx Context) (int, error)
	// Promote moves a still-pending task from its current priority queue to
	// a higher one, implementing the aging side of strict-priority-with-aging.
	Promote(ctx Context, taskID string, from, to Priority) error
}

// Parser turns an uploaded file into sanitized plain text plus warnings
// (e.g. OCR fallback used, PII masked).
type Parser interface {
	Parse(ctx Context, fileName string, mime string, data []byte) (text string, warnings []string, err error)
}

// TextExtractor is an external collaborator (e.g. Apache Tika) that turns a
// binary file on disk into plain text for formats the Parser cannot read
// natively (PDF, DOCX, legacy DOC). ExtractPath takes the original filename
// (for content-type hints) and a path to the file already written to disk.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// AIClient abstracts the raw LLM provider underneath the Extractor and
// Embedder: deterministic strict-JSON chat completions and batch text
// embedding. The extract/embed packages build their domain-level contracts
// on top of this lower-level port.
type AIClient interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Extractor turns sanitized document text into a deterministic Structured
// record (skills/responsibilities/title/experience), padded to fixed slot
// counts.
type Extractor interface {
	Extract(ctx Context, kind DocumentKind, text string) (Structured, error)
}

// Embedder turns a Structured record into an L2-normalized Embeddings
// bundle, one vector per skill/responsibility slot plus title/experience.
type Embedder interface {
	Embed(ctx Context, s Structured) (Embeddings, error)
}

// VectorStore persists and retrieves the single point-per-document
// embedding bundle across the logical collections.
type VectorStore interface {
	Put(ctx Context, kind DocumentKind, e Embeddings) error
	Get(ctx Context, kind DocumentKind, docID string) (Embeddings, error)
	DeleteDoc(ctx Context, kind DocumentKind, docID string) error
}

// Matcher computes the composite similarity between a CV's and a JD's
// embedding bundles.
type Matcher interface {
	Score(ctx Context, cv Embeddings, jd Embeddings, cvStruct, jdStruct Structured) (ScoreBreakdown, float64, error)
}

// Cache is the two-tier (local + shared) cache contract used by the
// extractor, embedder, and matcher to avoid redundant upstream calls.
type Cache interface {
	Get(ctx Context, namespace, key string) ([]byte, bool, error)
	Set(ctx Context, namespace, key string, value []byte, ttlSeconds int) error
	Del(ctx Context, namespace, key string) error
}

// MailMessage is a single inbound message surfaced by a Mailbox.
type MailMessage struct {
	ID          string
	Subject     string
	From        string
	Attachments []MailAttachment
}

// MailAttachment is one file carried by a MailMessage.
type MailAttachment struct {
	Filename string
	MIME     string
	Data     []byte
}

// Mailbox polls an external mail collaborator for new messages and marks
// them processed; the concrete transport is out of the matching engine's
// control surface.
type Mailbox interface {
	Poll(ctx Context, limit int) ([]MailMessage, error)
	MarkProcessed(ctx Context, id string) error
}
