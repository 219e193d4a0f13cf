// Package worker runs background jobs queued by the API.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/crewdesk/backend/pkg/queue"
	"github.com/crewdesk/backend/pkg/storage"
)

// ObjectStore is where archived billing payloads are written.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key, contentType string, body io.Reader) error
}

// ArchiveProcessor copies verified processor events to object storage.
type ArchiveProcessor struct {
	store   ObjectStore
	queue   *queue.Queue
	logger  *zap.Logger
	poll    time.Duration
	backoff time.Duration
}

// NewArchiveProcessor creates a billing archive processor.
func NewArchiveProcessor(store ObjectStore, q *queue.Queue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{store: store, queue: q, logger: logger, poll: 5 * time.Second, backoff: queue.RetryBackoff}
}

// Process executes one archive job. Objects already present are not rewritten.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeBillingArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.BillingArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.EventID == "" || len(payload.Raw) == 0 {
		return fmt.Errorf("archive job %s: empty event", job.ID)
	}

	key := storage.BillingEventKey(payload.EventID, payload.ReceivedAt)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check archive: %w", err)
	}
	if exists {
		p.logger.Info("billing event already archived", zap.String("event_id", payload.EventID), zap.String("key", key))
		return nil
	}
	if err := p.store.Put(ctx, key, "application/json", bytes.NewReader(payload.Raw)); err != nil {
		return fmt.Errorf("archive upload: %w", err)
	}

	p.logger.Info("billing event archived",
		zap.String("event_id", payload.EventID),
		zap.String("type", payload.EventType),
		zap.String("outcome", payload.Outcome),
		zap.String("key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx, p.backoff)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
