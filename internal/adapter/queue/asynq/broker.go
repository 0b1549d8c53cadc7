// Package asynqadp adapts the domain.Queue port onto asynq/Redis. Every
// pipeline stage consumes and produces through named queues here; the
// handler signature is a plain func(ctx, []byte) error so worker packages
// stay free of any asynq import.
package asynqadp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// taskName is the single asynq task type used for every queue; the queue
// name itself is carried in asynq's queue routing, not the task type, so
// one ServeMux handler per Consume call is all each worker needs.
const taskName = "pipeline.job"

// Broker implements domain.Queue over asynq, guarding the underlying Redis
// connection with a circuit breaker so a Redis outage fails fast instead of
// hanging every caller on dial timeouts.
type Broker struct {
	redisOpt asynq.RedisConnOpt
	client   *asynq.Client
	inspect  *asynq.Inspector
	breaker  *gobreaker.CircuitBreaker
	maxRetry int
}

// New constructs a Broker against the given Redis URL.
func New(redisURL string, maxRetry int) (*Broker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=broker.new: %w", err)
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("broker circuit breaker state change", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Broker{
		redisOpt: opt,
		client:   asynq.NewClient(opt),
		inspect:  asynq.NewInspector(opt),
		breaker:  breaker,
		maxRetry: maxRetry,
	}, nil
}

// Enqueue submits payload onto the named queue, retried up to maxRetry
// times by asynq before the task is archived. The outbox publisher is the
// only caller in normal operation; the dead-letter sweep uses it too when
// replaying a DLQ job.
func (b *Broker) Enqueue(ctx domain.Context, queueName string, payload []byte) error {
	_, err := b.breaker.Execute(func() (any, error) {
		t := asynq.NewTask(taskName, payload)
		return b.client.EnqueueContext(ctx, t,
			asynq.Queue(queueName),
			asynq.MaxRetry(b.maxRetry),
			asynq.Retention(24*time.Hour),
		)
	})
	if err != nil {
		return fmt.Errorf("op=broker.enqueue queue=%s: %w", queueName, err)
	}
	observability.EnqueueJob(queueName)
	return nil
}

// Consume registers handler against the named queue at the given
// concurrency and blocks until ctx is canceled. Each call owns its own
// asynq.Server so every pipeline stage runs as an independent consumer
// loop, matching the registry actor's one-goroutine-per-stage fan-out.
func (b *Broker) Consume(ctx domain.Context, queueName string, handler func(domain.Context, []byte) error, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			slog.Error("queue task failed", slog.String("queue", queueName), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskName, func(handlerCtx context.Context, t *asynq.Task) error {
		observability.StartProcessingJob(queueName)
		if err := handler(handlerCtx, t.Payload()); err != nil {
			observability.FailJob(queueName)
			return fmt.Errorf("op=broker.consume queue=%s: %w", queueName, err)
		}
		observability.CompleteJob(queueName)
		return nil
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("op=broker.consume.start queue=%s: %w", queueName, err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return ctx.Err()
}

// Close releases the underlying asynq client/inspector connections.
func (b *Broker) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("op=broker.close: %w", err)
	}
	return b.inspect.Close()
}
