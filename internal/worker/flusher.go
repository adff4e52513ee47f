package worker

import (
	"context"

	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/pkg/queue"
)

// QueueFlusher satisfies the coordinator's Flusher by enqueueing
// persistence jobs, keeping the durable store off the critical path of
// admission decisions.
type QueueFlusher struct {
	queue *queue.Queue
}

// NewQueueFlusher creates a queue-backed flusher.
func NewQueueFlusher(q *queue.Queue) *QueueFlusher {
	return &QueueFlusher{queue: q}
}

func (f *QueueFlusher) SessionChanged(ctx context.Context, s models.BroadcastSession) error {
	return f.queue.Enqueue(ctx, queue.JobTypeSessionUpsert, s)
}

func (f *QueueFlusher) StockChanged(ctx context.Context, s models.ProductStock) error {
	return f.queue.Enqueue(ctx, queue.JobTypeStockUpsert, s)
}

func (f *QueueFlusher) ReservationChanged(ctx context.Context, r models.Reservation) error {
	return f.queue.Enqueue(ctx, queue.JobTypeReservationUpsert, r)
}

func (f *QueueFlusher) OrderPlaced(ctx context.Context, o models.Order) error {
	return f.queue.Enqueue(ctx, queue.JobTypeOrderInsert, o)
}

func (f *QueueFlusher) SnapshotSampled(ctx context.Context, m models.SessionMetricsSnapshot) error {
	return f.queue.Enqueue(ctx, queue.JobTypeSnapshotSample, m)
}
