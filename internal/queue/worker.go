package queue

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

// Source is a pull-based queue backend.
type Source interface {
	Receive(ctx context.Context, n int) ([]Delivery, error)
	Ack(ctx context.Context, ids ...string) error
}

// Worker runs a fixed number of consumers, each handling one message at a
// time. Failed messages are left unacked for redelivery.
type Worker struct {
	src         Source
	handle      Handler
	log         *logger.Logger
	metrics     *observability.Metrics
	backend     string
	concurrency int
	errDelay    time.Duration
}

func NewWorker(src Source, handle Handler, baseLog *logger.Logger, metrics *observability.Metrics, backend string, concurrency int) *Worker {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		src:         src,
		handle:      handle,
		log:         baseLog.With("component", "QueueWorker", "backend", backend),
		metrics:     metrics,
		backend:     backend,
		concurrency: concurrency,
		errDelay:    time.Second,
	}
}

// Run blocks until ctx is done and every consumer has returned.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				w.Poll(ctx)
			}
		}()
	}
	w.log.Info("queue worker started", "concurrency", w.concurrency)
	wg.Wait()
	w.log.Info("queue worker stopped")
}

// Poll receives and handles one message.
func (w *Worker) Poll(ctx context.Context) {
	deliveries, err := w.src.Receive(ctx, 1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("queue receive failed", "error", err)
		sleepCtx(ctx, w.errDelay)
		return
	}
	if len(deliveries) == 0 {
		return
	}

	failed := ProcessBatch(ctx, deliveries, w.handle, func(d Delivery, err error) {
		w.metrics.IncQueueMessage(w.backend, "dropped")
		w.log.Error("dropping malformed message", "id", d.ID, "error", err)
	})
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
		w.metrics.IncQueueMessage(w.backend, "failed")
		w.log.Warn("message handling failed; leaving for redelivery", "id", id)
	}

	var ack []string
	for _, d := range deliveries {
		if !failedSet[d.ID] {
			ack = append(ack, d.ID)
		}
	}
	if len(ack) == 0 {
		return
	}
	// Acks must survive shutdown once the work is done.
	if err := w.src.Ack(context.WithoutCancel(ctx), ack...); err != nil {
		w.log.Warn("queue ack failed", "ids", ack, "error", err)
		return
	}
	w.metrics.IncQueueMessage(w.backend, "acked")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
