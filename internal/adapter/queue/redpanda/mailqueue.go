package redpanda

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/usecase"
)

// TopicMailIngest carries domain.MailIngestTaskPayload records produced by
// the mail poller, decoupling mailbox polling from the (slower, more
// failure-prone) parse/ingest pipeline.
const TopicMailIngest = "mail-ingest-jobs"

// TopicMailDLQ holds mail-ingest jobs that exhausted their retry budget.
const TopicMailDLQ = "mail-ingest-dlq"

// MailProducer implements mailingest.Enqueuer over a plain (non-transactional)
// Kafka producer: mail ingestion only needs at-least-once delivery, since
// internal/mailingest.ProcessedStore already makes re-delivery idempotent on
// message ID, so no transactional (exactly-once) producer is used here.
type MailProducer struct {
	client *kgo.Client
}

// NewMailProducer constructs a MailProducer, ensuring the mail-ingest topic
// exists.
func NewMailProducer(brokers []string) (*MailProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.RequestRetries(10))
	if err != nil {
		return nil, fmt.Errorf("mail producer client: %w", err)
	}
	ctx := context.Background()
	if err := createTopicIfNotExists(ctx, client, TopicMailIngest, 3, 1); err != nil {
		slog.Warn("mail ingest topic creation failed, it may already exist", slog.Any("error", err))
	}
	if err := createTopicIfNotExists(ctx, client, TopicMailDLQ, 1, 1); err != nil {
		slog.Warn("mail dlq topic creation failed, it may already exist", slog.Any("error", err))
	}
	return &MailProducer{client: client}, nil
}

// EnqueueMailIngest implements mailingest.Enqueuer.
func (p *MailProducer) EnqueueMailIngest(ctx domain.Context, payload domain.MailIngestTaskPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal mail ingest payload: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicMailIngest,
		Key:   []byte(payload.MessageID),
		Value: b,
	}
	res := p.client.ProduceSync(ctx, record)
	if err := res.FirstErr(); err != nil {
		return "", fmt.Errorf("produce mail ingest job: %w", err)
	}
	return payload.MessageID, nil
}

// Close releases the underlying client.
func (p *MailProducer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// MailConsumer drains TopicMailIngest, turning each attachment into an
// ingested Document via usecase.IngestService, retrying transient failures
// in-process per domain.RetryConfig before archiving the job to
// TopicMailDLQ.
type MailConsumer struct {
	client   *kgo.Client
	ingest   usecase.IngestService
	parser   domain.Parser
	jobs     domain.JobRepository
	dlq      *kgo.Client
	retryCfg domain.RetryConfig
	log      *slog.Logger
	poller   *AdaptivePoller
}

// NewMailConsumer constructs a MailConsumer in consumer group groupID.
// parser turns an attachment's raw bytes into plain text the same way the
// HTTP ingest handler does, so a mailed PDF/DOCX goes through identical
// extraction.
func NewMailConsumer(brokers []string, groupID string, ingest usecase.IngestService, parser domain.Parser, jobs domain.JobRepository, log *slog.Logger) (*MailConsumer, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicMailIngest),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("mail consumer client: %w", err)
	}
	dlqClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("mail dlq client: %w", err)
	}
	return &MailConsumer{
		client:   client,
		ingest:   ingest,
		parser:   parser,
		jobs:     jobs,
		dlq:      dlqClient,
		retryCfg: domain.DefaultRetryConfig(),
		log:      log,
		poller:   NewAdaptivePoller(5 * time.Second),
	}, nil
}

// Start polls and processes records until ctx is cancelled. After a fetch
// with no records and no error it waits poller.GetNextInterval() before
// polling again; fetch errors widen that interval through RecordFailure and
// error-free fetches narrow it through RecordSuccess.
func (c *MailConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		var fetchErr error
		fetches.EachError(func(_ string, _ int32, err error) {
			fetchErr = err
			c.log.Error("mail consumer fetch error", slog.Any("error", err))
		})
		if fetchErr != nil {
			c.poller.RecordFailure()
		} else {
			c.poller.RecordSuccess()
		}
		n := 0
		fetches.EachRecord(func(rec *kgo.Record) {
			n++
			c.process(ctx, rec)
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.log.Warn("mail consumer commit failed", slog.Any("error", err))
		}
		if n == 0 && fetchErr == nil {
			select {
			case <-time.After(c.poller.GetNextInterval()):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close releases both underlying clients.
func (c *MailConsumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	if c.dlq != nil {
		c.dlq.Close()
	}
	return nil
}

func (c *MailConsumer) process(ctx context.Context, rec *kgo.Record) {
	var payload domain.MailIngestTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		c.log.Error("mail job decode failed", slog.Any("error", err))
		return
	}

	info := domain.RetryInfo{MaxAttempts: c.retryCfg.MaxRetries}
	var lastErr error
	for info.AttemptCount <= c.retryCfg.MaxRetries {
		if err := c.ingestAttachments(ctx, payload); err != nil {
			lastErr = err
			info.UpdateRetryAttempt(err)
			if !info.ShouldRetry(err, c.retryCfg) {
				break
			}
			select {
			case <-time.After(info.CalculateNextRetryDelay(c.retryCfg)):
			case <-ctx.Done():
				return
			}
			continue
		}
		return
	}

	c.log.Error("mail ingest exhausted retries, archiving to dlq",
		slog.String("message_id", payload.MessageID), slog.Any("error", lastErr))
	info.MarkAsDLQ()
	c.archive(ctx, payload, rec.Value, lastErr)
}

// ingestAttachments runs every classified attachment through the same
// parse-then-enqueue path /ingest/cv and /ingest/jd use, so a mailed CV and
// a mailed JD both land in the same extract/embed/match pipeline.
func (c *MailConsumer) ingestAttachments(ctx domain.Context, payload domain.MailIngestTaskPayload) error {
	for _, att := range payload.Attachments {
		text, warnings, err := c.parser.Parse(ctx, att.Filename, att.MIME, att.Data)
		if err != nil {
			return fmt.Errorf("parse mail attachment %q: %w", att.Filename, err)
		}
		sum := sha256.Sum256(att.Data)
		doc := domain.Document{
			Kind:        att.Kind,
			RawText:     text,
			ContentHash: hex.EncodeToString(sum[:]),
			Filename:    att.Filename,
			MIME:        att.MIME,
			Size:        int64(len(att.Data)),
			Status:      domain.DocumentReceived,
			Warnings:    warnings,
		}
		if _, _, err := c.ingest.Enqueue(ctx, doc, payload.MessageID+":"+att.Filename); err != nil {
			return fmt.Errorf("ingest mail attachment %q: %w", att.Filename, err)
		}
	}
	return nil
}

func (c *MailConsumer) archive(ctx context.Context, payload domain.MailIngestTaskPayload, raw []byte, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	record := &kgo.Record{
		Topic: TopicMailDLQ,
		Key:   []byte(payload.MessageID),
		Value: raw,
		Headers: []kgo.RecordHeader{
			{Key: "failure_reason", Value: []byte(reason)},
			{Key: "failure_code", Value: []byte(classifyFailureCode(reason))},
		},
	}
	if res := c.dlq.ProduceSync(ctx, record); res.FirstErr() != nil {
		c.log.Error("mail dlq archive failed", slog.String("message_id", payload.MessageID), slog.Any("error", res.FirstErr()))
	}
}
