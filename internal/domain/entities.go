// Package domain defines the core entities, ports, and domain-specific
// errors shared across the matching engine.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across
// layers; adapters and usecases pass context.Context through directly.
type Context = context.Context

// DocumentKind enumerates the two document families the engine understands.
type DocumentKind string

const (
	// DocumentCV marks a candidate resume/CV document.
	DocumentCV DocumentKind = "cv"
	// DocumentJD marks a job description document.
	DocumentJD DocumentKind = "jd"
)

// DocumentStatus captures where a Document sits in the ingestion pipeline.
type DocumentStatus string

const (
	// DocumentReceived means the raw file was accepted and parsed.
	DocumentReceived DocumentStatus = "received"
	// DocumentExtracted means structured fields were extracted.
	DocumentExtracted DocumentStatus = "extracted"
	// DocumentEmbedded means the embedding bundle was computed and stored.
	DocumentEmbedded DocumentStatus = "embedded"
	// DocumentFailed means the pipeline could not complete for this document.
	DocumentFailed DocumentStatus = "failed"
)

// PadToken fills unused skill/responsibility slots so every Structured
// record carries exactly the fixed slot count the embedder expects.
const PadToken = "__PAD__"

// SkillSlots and RespSlots are the fixed cardinalities the extractor must
// pad or truncate every document to, so the embedding bundle is always the
// same shape regardless of document length.
const (
	SkillSlots = 20
	RespSlots  = 10
)

// EmbeddingDim is the vector width every slot in an Embeddings bundle must
// have after L2-normalization.
const EmbeddingDim = 768

// Document is a parsed, sanitized CV or JD awaiting (or having completed)
// structured extraction and embedding.
type Document struct {
	ID          string
	Kind        DocumentKind
	RawText     string
	ContentHash string
	Filename    string
	MIME        string
	Size        int64
	Status      DocumentStatus
	Warnings    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Structured is the deterministic LLM extraction output for a Document:
// exactly SkillSlots skills and RespSlots responsibilities, padded with
// PadToken when the source text yields fewer.
type Structured struct {
	DocumentID       string
	Title            string
	Category         string
	ExperienceYears  float64
	Skills           [SkillSlots]string
	Responsibilities [RespSlots]string
	PromptVersion    string
	ModelID          string
	CreatedAt        time.Time
}

// Embeddings is the 32-vector bundle for a Document: one vector per skill
// slot, one per responsibility slot, plus title and experience vectors, all
// L2-normalized to EmbeddingDim.
type Embeddings struct {
	DocumentID   string
	SkillVecs    [SkillSlots][]float32
	RespVecs     [RespSlots][]float32
	TitleVec     []float32
	ExperVec     []float32
	Dim          int
	ModelID      string
	CreatedAt    time.Time
}

// ScoreBreakdown captures the per-component contributions to a composite
// match score, so API responses and logs can show the reasoning.
type ScoreBreakdown struct {
	SkillScore          float64
	ResponsibilityScore float64
	TitleScore          float64
	ExperienceScore     float64
	Adjustments         []Adjustment
}

// Adjustment is a single business-rule delta applied on top of the raw
// weighted composite, with a human-readable reason for audit/debugging.
type Adjustment struct {
	Reason string
	Delta  float64
}

// Match is the result of scoring one CV Document against one JD Document.
type Match struct {
	CVID           string
	JDID           string
	CompositeScore float64
	Breakdown      ScoreBreakdown
	WeightsVersion string
	ComputedAt     time.Time
}

// JobKind enumerates the background work items the queue carries.
type JobKind string

const (
	// JobIngestCV runs the parse->extract->embed->store pipeline for a CV.
	JobIngestCV JobKind = "ingest_cv"
	// JobIngestJD runs the same pipeline for a JD.
	JobIngestJD JobKind = "ingest_jd"
	// JobMatch scores a single CV/JD pair.
	JobMatch JobKind = "match"
	// JobBulkMatch scores one JD against a batch of CVs.
	JobBulkMatch JobKind = "bulk_match"
	// JobMailIngest runs ingestion for a document collected from a mailbox
	// attachment by the mail ingestor.
	JobMailIngest JobKind = "mail_ingest"
)

// JobStatus captures the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
	JobDeadLettered JobStatus = "dead_lettered"
)

// Priority orders jobs within the same queue; higher runs first, subject to
// the aging rule applied by the supervisor so low-priority jobs are not
// starved indefinitely: a job waiting past its tier's SLA is promoted one
// level every aging interval, up to PriorityUrgent.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	// PriorityUrgent is the ceiling aging promotes toward; nothing
	// ages out of it, and it is never assigned at enqueue time.
	PriorityUrgent Priority = 3
)

// Promoted returns the next priority level up, or p unchanged if already
// at PriorityUrgent.
func (p Priority) Promoted() Priority {
	if p >= PriorityUrgent {
		return PriorityUrgent
	}
	return p + 1
}

// Job is the domain model for a queued unit of background work.
type Job struct {
	ID             string
	Kind           JobKind
	Status         JobStatus
	Priority       Priority
	Payload        []byte
	IdemKey        *string
	Attempts       int
	MaxAttempts    int
	Error          string
	RequestID      string
	EnqueuedAt     time.Time
	UpdatedAt      time.Time
}

// IngestTaskPayload is the payload carried by JobIngestCV/JobIngestJD jobs.
type IngestTaskPayload struct {
	DocumentID string
	Kind       DocumentKind
	RequestID  string
}

// MatchTaskPayload is the payload carried by a JobMatch job.
type MatchTaskPayload struct {
	CVID      string
	JDID      string
	RequestID string
}

// BulkMatchTaskPayload is the payload carried by a JobBulkMatch job; CVIDs
// is chunked by the orchestrator into batches of BulkMatchChunkSize.
type BulkMatchTaskPayload struct {
	JDID      string
	CVIDs     []string
	RequestID string
}

// BulkMatchChunkSize is the fan-out batch size for bulk match jobs.
const BulkMatchChunkSize = 50

// MailAttachmentPayload carries one attachment's bytes from a classified
// mailbox message through the mail-ingest queue to the consumer that turns
// it into a Document.
type MailAttachmentPayload struct {
	Filename string
	MIME     string
	Data     []byte
	Kind     DocumentKind
}

// MailIngestTaskPayload is the payload carried by JobMailIngest jobs,
// produced by the mail poller and consumed by the mail-ingest worker; it
// decouples mailbox polling from parsing/ingestion so a slow or failing
// downstream (Tika, Postgres) never blocks the poller's next fetch.
type MailIngestTaskPayload struct {
	MessageID   string
	From        string
	Subject     string
	ReceivedAt  time.Time
	Attachments []MailAttachmentPayload
	RequestID   string
}
