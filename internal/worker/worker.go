// Package worker schedules enrichment jobs from the durable queue onto
// a bounded pool, with a per-screenshot in-flight guard so duplicate
// deliveries coalesce instead of racing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/pipeline"
	"github.com/screenvault/screenvault/internal/provider"
	"github.com/screenvault/screenvault/internal/queue"
	"github.com/screenvault/screenvault/internal/repository"
)

// Worker owns the consume loop: receive, guard, run the pipeline with
// backoff on transient failures, then ack or leave for re-delivery.
type Worker struct {
	queue       queue.JobQueue
	pipe        *pipeline.Pipeline
	screenshots repository.ScreenshotStore
	guard       *InFlightGuard
	cfg         config.WorkerConfig
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// New creates a worker.
func New(
	q queue.JobQueue,
	pipe *pipeline.Pipeline,
	screenshots repository.ScreenshotStore,
	guard *InFlightGuard,
	cfg config.WorkerConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Worker {
	if logger == nil {
		logger = observability.NewLogger("worker")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		queue:       q,
		pipe:        pipe,
		screenshots: screenshots,
		guard:       guard,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run consumes jobs until the context is cancelled. It blocks; callers
// run it in its own goroutine and cancel the context to stop.
func (w *Worker) Run(ctx context.Context) {
	jobs := make(chan queue.Message)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				w.handle(ctx, msg)
			}
		}()
	}

	if w.cfg.ReconcileInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.reconcileLoop(ctx)
		}()
	}

	w.logger.Info("Worker started", map[string]interface{}{
		"concurrency":  w.cfg.Concurrency,
		"max_attempts": w.cfg.MaxAttempts,
	})

	for ctx.Err() == nil {
		msgs, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("Failed to receive jobs", map[string]interface{}{
				"error": err.Error(),
			})
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		for _, msg := range msgs {
			select {
			case jobs <- msg:
			case <-ctx.Done():
			}
		}
	}

	close(jobs)
	wg.Wait()
	w.logger.Info("Worker stopped", nil)
}

// handle runs one delivered job end to end. The message is acked only
// when the job reached a terminal outcome; a transient failure leaves
// it for re-delivery after the visibility timeout.
func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	id := msg.Job.ScreenshotID

	acquired, err := w.guard.TryAcquire(ctx, id)
	if err != nil {
		w.logger.Error("In-flight guard unavailable", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
		return
	}
	if !acquired {
		// Another worker holds this screenshot. Leave the message; the
		// duplicate will be acked by whichever delivery runs last.
		w.metrics.IncrementCounter("worker_coalesced", 1)
		return
	}
	defer func() {
		if err := w.guard.Release(context.WithoutCancel(ctx), id); err != nil {
			w.logger.Warn("Failed to release in-flight guard", map[string]interface{}{
				"screenshot_id": id.String(),
				"error":         err.Error(),
			})
		}
	}()

	if err := w.runJob(ctx, msg); err != nil {
		w.metrics.IncrementCounter("worker_deferred", 1)
		w.logger.Warn("Job deferred for re-delivery", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
		return
	}

	if err := w.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("Failed to ack job", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}
}

// runJob drives the pipeline with exponential backoff on transient
// errors. A nil return means the job is finished one way or another
// (indexed, abandoned, or routed to failed) and can be acked.
func (w *Worker) runJob(ctx context.Context, msg queue.Message) error {
	id := msg.Job.ScreenshotID

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	operation := func() error {
		attempt, err := w.screenshots.IncrementAttempts(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Deleted while queued; let the pipeline clean up.
				return w.pipe.Process(ctx, id)
			}
			return err
		}
		if attempt > w.cfg.MaxAttempts {
			return backoff.Permanent(w.routeToFailed(ctx, id,
				fmt.Sprintf("retries exhausted after %d attempts", attempt-1)))
		}

		err = w.pipe.Process(ctx, id)
		switch {
		case err == nil:
			return nil
		case isTransient(err):
			w.metrics.IncrementCounter("worker_transient_errors", 1)
			return err
		default:
			w.metrics.IncrementCounter("worker_permanent_errors", 1)
			return backoff.Permanent(w.routeToFailed(ctx, id, err.Error()))
		}
	}

	notify := func(err error, next time.Duration) {
		w.logger.Debug("Retrying job after transient error", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
			"backoff":       next.String(),
		})
		// Keep the lease ahead of the retry schedule.
		if lerr := w.queue.ExtendLease(ctx, msg.ReceiptHandle, next+time.Minute); lerr != nil {
			w.logger.Debug("Failed to extend lease", map[string]interface{}{
				"screenshot_id": id.String(),
				"error":         lerr.Error(),
			})
		}
	}

	return backoff.RetryNotify(operation, backoff.WithMaxRetries(
		backoff.WithContext(b, ctx), uint64(w.cfg.MaxAttempts)), notify)
}

// routeToFailed marks the record failed, keeping the last good
// metadata. A record that vanished or terminalized in the meantime is
// not an error; the job is simply done.
func (w *Worker) routeToFailed(ctx context.Context, id uuid.UUID, reason string) error {
	err := w.screenshots.MarkFailed(ctx, id, reason)
	if err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrInvalidTransition) {
		return err
	}
	w.metrics.IncrementCounter("worker_failed_jobs", 1)
	w.logger.Warn("Screenshot routed to failed", map[string]interface{}{
		"screenshot_id": id.String(),
		"reason":        reason,
	})
	return nil
}

// isTransient reports whether the error should be retried with
// backoff. Provider auth failures and malformed responses (already
// retried once inside the pipeline) are permanent; everything else,
// including storage and index outages, is assumed to pass.
func isTransient(err error) bool {
	if errors.Is(err, provider.ErrAuthFailure) || errors.Is(err, provider.ErrInvalidResponse) {
		return false
	}
	return true
}

// reconcileLoop periodically repairs index/metadata divergence.
func (w *Worker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pipe.Reconcile(ctx); err != nil {
				w.logger.Error("Reconcile pass failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
