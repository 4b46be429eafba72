// Package jobs runs queued events in the background.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ashureev/sagent/internal/domain"
)

// Queue is the event table as seen by the worker.
type Queue interface {
	ClaimEvents(ctx context.Context, limit int) ([]*domain.Event, error)
	CompleteEvent(ctx context.Context, eventID string) error
	FailEvent(ctx context.Context, eventID string, reason string) error
	FailStaleEvents(ctx context.Context) (int64, error)
}

// HandlerFunc processes one event. A returned error marks the event failed.
type HandlerFunc func(ctx context.Context, evt *domain.Event) error

// Worker polls the queue and runs each claimed event in its own goroutine,
// at most concurrency at a time. Events are never retried.
type Worker struct {
	queue    Queue
	handle   HandlerFunc
	interval time.Duration
	sem      chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a worker.
func NewWorker(queue Queue, handle HandlerFunc, concurrency int, interval time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		queue:    queue,
		handle:   handle,
		interval: interval,
		sem:      make(chan struct{}, concurrency),
		wake:     make(chan struct{}, 1),
	}
}

// Recover fails events a previous process left running.
func (w *Worker) Recover(ctx context.Context) error {
	n, err := w.queue.FailStaleEvents(ctx)
	if err != nil {
		return fmt.Errorf("fail stale events: %w", err)
	}
	if n > 0 {
		slog.Warn("Marked interrupted jobs as failed", "count", n)
	}
	return nil
}

// Notify asks the worker to poll now instead of waiting for the next tick.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs the poll loop in a goroutine until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run polls until ctx is canceled, then waits for running jobs.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Job worker started", "interval", w.interval, "concurrency", cap(w.sem))

	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Job worker poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Job worker shutting down", "reason", ctx.Err())
			w.Wait()
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Poll claims as many events as there are free slots and dispatches them.
// It returns the number of dispatched events.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	free := cap(w.sem) - len(w.sem)
	if free == 0 {
		return 0, nil
	}
	events, err := w.queue.ClaimEvents(ctx, free)
	if err != nil {
		return 0, fmt.Errorf("claim events: %w", err)
	}
	for _, evt := range events {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go w.run(ctx, evt)
	}
	return len(events), nil
}

// Wait blocks until every dispatched job has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, evt *domain.Event) {
	defer w.wg.Done()
	defer func() { <-w.sem }()

	logger := slog.With("event_id", evt.ID, "event", evt.Name)
	start := time.Now()
	err := w.safeHandle(ctx, evt)

	// The outcome is recorded even during shutdown.
	done := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("Job failed", "error", err, "duration", time.Since(start))
		if ferr := w.queue.FailEvent(done, evt.ID, err.Error()); ferr != nil {
			logger.Error("Failed to mark job failed", "error", ferr)
		}
		return
	}
	logger.Info("Job completed", "duration", time.Since(start))
	if cerr := w.queue.CompleteEvent(done, evt.ID); cerr != nil {
		logger.Error("Failed to mark job done", "error", cerr)
	}
}

func (w *Worker) safeHandle(ctx context.Context, evt *domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "event_id", evt.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.handle(ctx, evt)
}
