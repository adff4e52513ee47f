package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/checkout"
	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/internal/products"
	"github.com/shoplive/backend/internal/sessions"
	"github.com/shoplive/backend/pkg/queue"
)

// PersistenceProcessor drains flush jobs from the queue into the
// durable store. It is the only writer on the persistence path; the
// coordinator never waits for it.
type PersistenceProcessor struct {
	sessions *sessions.Repository
	products *products.Repository
	checkout *checkout.Repository
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewPersistenceProcessor creates the flush job processor.
func NewPersistenceProcessor(s *sessions.Repository, p *products.Repository, c *checkout.Repository, q *queue.Queue, logger *zap.Logger) *PersistenceProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistenceProcessor{sessions: s, products: p, checkout: c, queue: q, logger: logger}
}

// Process executes one flush job.
func (p *PersistenceProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeSessionUpsert:
		var s models.BroadcastSession
		if err := json.Unmarshal(job.Payload, &s); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		return p.sessions.Upsert(ctx, s)
	case queue.JobTypeStockUpsert:
		var s models.ProductStock
		if err := json.Unmarshal(job.Payload, &s); err != nil {
			return fmt.Errorf("unmarshal stock: %w", err)
		}
		return p.products.UpsertStock(ctx, s)
	case queue.JobTypeReservationUpsert:
		var r models.Reservation
		if err := json.Unmarshal(job.Payload, &r); err != nil {
			return fmt.Errorf("unmarshal reservation: %w", err)
		}
		return p.checkout.UpsertReservation(ctx, r)
	case queue.JobTypeOrderInsert:
		var o models.Order
		if err := json.Unmarshal(job.Payload, &o); err != nil {
			return fmt.Errorf("unmarshal order: %w", err)
		}
		return p.checkout.InsertOrder(ctx, o)
	case queue.JobTypeSnapshotSample:
		var m models.SessionMetricsSnapshot
		if err := json.Unmarshal(job.Payload, &m); err != nil {
			return fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return p.sessions.InsertMetricsSample(ctx, m)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run dequeues and processes jobs until ctx is cancelled. Failed jobs
// are retried through the queue and end in the DLQ after MaxRetries.
func (p *PersistenceProcessor) Run(ctx context.Context) {
	p.logger.Info("persistence worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("persistence worker stopped")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Warn("job failed",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Error(err))
			_ = p.queue.Retry(ctx, job)
		}
	}
}
