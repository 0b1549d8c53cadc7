package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// outboxLeaseName is the single lease every publisher process contends for;
// only the current holder is allowed to drain and enqueue outbox rows, so
// running several publisher processes for availability never double-enqueues
// a row onto its destination queue.
const outboxLeaseName = "outbox-publisher"

// OutboxPublisher implements C2: it periodically drains pending outbox rows
// and hands each one to the queue broker, marking it published only after
// the enqueue call succeeds. Running under a held lease means at most one
// process is draining at a time; losing the lease mid-tick simply means the
// next holder picks up whatever is still marked pending.
type OutboxPublisher struct {
	outbox   domain.OutboxRepository
	queue    domain.Queue
	lease    domain.Lease
	batch    int
	leaseTTL time.Duration
}

// NewOutboxPublisher constructs an OutboxPublisher draining up to batchSize
// rows per tick, holding the leader lease for leaseTTL at a time.
func NewOutboxPublisher(outbox domain.OutboxRepository, queue domain.Queue, lease domain.Lease, batchSize int, leaseTTL time.Duration) *OutboxPublisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &OutboxPublisher{outbox: outbox, queue: queue, lease: lease, batch: batchSize, leaseTTL: leaseTTL}
}

// RunOnce attempts to acquire the publisher lease and, if successful,
// drains and enqueues up to one batch of pending rows. It returns how many
// rows it published; 0 with a nil error means either the lease was held by
// another process or there was nothing pending.
func (p *OutboxPublisher) RunOnce(ctx domain.Context) (int, error) {
	token, ok, err := p.lease.Acquire(ctx, outboxLeaseName, p.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("op=outbox_publisher.run_once.acquire: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := p.lease.Release(ctx, outboxLeaseName, token); err != nil {
			slog.Warn("failed to release outbox publisher lease", slog.Any("error", err))
		}
	}()

	rows, err := p.outbox.ListPending(ctx, p.batch)
	if err != nil {
		return 0, fmt.Errorf("op=outbox_publisher.run_once.list: %w", err)
	}

	published := 0
	for _, row := range rows {
		if ownsStill, err := p.lease.CheckOwnership(ctx, outboxLeaseName, token); err != nil {
			return published, fmt.Errorf("op=outbox_publisher.run_once.check_ownership: %w", err)
		} else if !ownsStill {
			return published, fmt.Errorf("op=outbox_publisher.run_once: %w", domain.ErrLeaseLost)
		}

		if err := p.queue.Enqueue(ctx, row.QueueName, row.Payload); err != nil {
			slog.Error("failed to enqueue outbox row, leaving pending for retry",
				slog.Int64("outbox_id", row.ID), slog.String("queue", row.QueueName), slog.Any("error", err))
			continue
		}
		if err := p.outbox.MarkPublished(ctx, row.ID); err != nil {
			return published, fmt.Errorf("op=outbox_publisher.run_once.mark_published id=%d: %w", row.ID, err)
		}
		published++
	}
	return published, nil
}

// Run ticks RunOnce every interval until ctx is canceled.
func (p *OutboxPublisher) Run(ctx domain.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox publisher stopping")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				slog.Error("outbox publisher tick failed", slog.Any("error", err))
			}
		}
	}
}
