package mailingest

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// LeaderLock lets multiple worker replicas share one mailbox poller config
// without double-fetching: only the holder proceeds, everyone else skips
// the tick. Grounded on the single advisory-lock-per-tick style of the
// teacher's periodic cleanup loop.
type LeaderLock interface {
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// ProcessedStore remembers which mailbox message IDs have already been
// produced to the queue, so a message re-fetched after a crash between
// FetchUnseen and MarkSeen is not enqueued twice.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// Enqueuer hands a classified message off for asynchronous ingestion.
type Enqueuer interface {
	EnqueueMailIngest(ctx domain.Context, payload domain.MailIngestTaskPayload) (string, error)
}

const lockName = "mailingest.poller"

// PollerConfig tunes polling cadence; intervals widen on repeated empty
// polls and reset to BaseInterval as soon as a message is found, the same
// backoff/speedup shape as the teacher's AdaptivePoller.
type PollerConfig struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	BatchLimit   int
	// RequestIDPattern, when set, pulls a correlation token (e.g.
	// "JD-2026-001") out of the subject line into MailIngestTaskPayload's
	// RequestID, independent of CV/JD classification.
	RequestIDPattern *regexp.Regexp
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.BaseInterval <= 0 {
		c.BaseInterval = 30 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 25
	}
	return c
}

// Poller periodically fetches unseen mailbox messages, classifies their
// attachments, and enqueues one MailIngestTaskPayload per message.
type Poller struct {
	Mailbox   Mailbox
	Lock      LeaderLock
	Processed ProcessedStore
	Queue     Enqueuer
	Config    PollerConfig
	Log       *slog.Logger

	consecutiveEmpty int
}

// NewPoller constructs a Poller; Log defaults to slog.Default() when nil.
func NewPoller(mailbox Mailbox, lock LeaderLock, processed ProcessedStore, queue Enqueuer, cfg PollerConfig, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{Mailbox: mailbox, Lock: lock, Processed: processed, Queue: queue, Config: cfg.withDefaults(), Log: log}
}

// Run ticks at an adaptive interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(p.Config.BaseInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			found, err := p.Tick(ctx)
			if err != nil {
				p.Log.Error("mail poll tick failed", slog.Any("error", err))
			}
			timer.Reset(p.nextInterval(found))
		}
	}
}

// nextInterval widens the wait after consecutive empty polls (capped at
// MaxInterval) and resets to BaseInterval the moment a poll finds work.
func (p *Poller) nextInterval(found int) time.Duration {
	if found > 0 {
		p.consecutiveEmpty = 0
		return p.Config.BaseInterval
	}
	p.consecutiveEmpty++
	backoff := float64(p.Config.BaseInterval) * math.Pow(1.5, float64(p.consecutiveEmpty))
	if backoff > float64(p.Config.MaxInterval) {
		backoff = float64(p.Config.MaxInterval)
	}
	return time.Duration(backoff)
}

// Tick runs one poll cycle: acquire the leader lock, fetch unseen messages,
// skip any already-processed ID, enqueue the rest, and mark each one seen
// only after a successful enqueue. It returns the count of messages handed
// off this tick.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	acquired, err := p.Lock.TryAcquire(ctx, lockName)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := p.Lock.Release(ctx, lockName); err != nil {
			p.Log.Warn("mail poller lock release failed", slog.Any("error", err))
		}
	}()

	messages, err := p.Mailbox.FetchUnseen(ctx, p.Config.BatchLimit)
	if err != nil {
		return 0, err
	}

	handed := 0
	for _, msg := range messages {
		done, err := p.Processed.IsProcessed(ctx, msg.ID)
		if err != nil {
			p.Log.Warn("mail processed-check failed", slog.String("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		if done {
			_ = p.Mailbox.MarkSeen(ctx, msg.ID)
			continue
		}

		payload, err := ParseMessage(msg.ID, msg.Raw)
		if err != nil {
			p.Log.Error("mail message parse failed", slog.String("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		if p.Config.RequestIDPattern != nil {
			payload.RequestID = p.Config.RequestIDPattern.FindString(payload.Subject)
		}
		if len(payload.Attachments) == 0 {
			p.Log.Debug("mail message has no classifiable attachment, skipping", slog.String("message_id", msg.ID), slog.String("subject", payload.Subject))
			_ = p.markHandled(ctx, msg.ID)
			continue
		}

		if _, err := p.Queue.EnqueueMailIngest(ctx, payload); err != nil {
			p.Log.Error("mail ingest enqueue failed", slog.String("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		if err := p.markHandled(ctx, msg.ID); err != nil {
			p.Log.Warn("mail message mark-handled failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		}
		handed++
	}
	return handed, nil
}

func (p *Poller) markHandled(ctx context.Context, messageID string) error {
	if err := p.Processed.MarkProcessed(ctx, messageID); err != nil {
		return err
	}
	return p.Mailbox.MarkSeen(ctx, messageID)
}
