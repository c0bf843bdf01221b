// Package worker runs harvest jobs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/events"
	"github.com/JakeFAU/keyword-harvester/internal/harvest"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
)

// Collectors resolves a source name to its collector instance.
type Collectors interface {
	Collector(source string) (collector.Collector, error)
}

// Worker consumes queued jobs and runs them against the named collector.
type Worker struct {
	queue      harvest.Queue
	jobStore   harvest.JobStore
	collectors Collectors
	events     events.Emitter
	clock      harvest.Clock
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue harvest.Queue,
	jobStore harvest.JobStore,
	collectors Collectors,
	emitter events.Emitter,
	clock harvest.Clock,
	logger *zap.Logger,
) *Worker {
	if emitter == nil {
		emitter = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		collectors: collectors,
		events:     emitter,
		clock:      clock,
		logger:     logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, harvest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job harvest.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	req := job.Request
	if err := w.jobStore.UpdateJobStatus(ctx, job.ID, harvest.StatusRunning, ""); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.emit(events.EventJobStart, events.StatusStarted, job, "", map[string]any{
		"job_id": job.ID,
		"term":   req.Term,
		"limit":  req.Limit,
	})

	status, errText, keywords := w.run(ctx, job)

	// The outcome is recorded even when the worker is shutting down.
	finalCtx := context.WithoutCancel(ctx)
	if err := w.jobStore.Complete(finalCtx, job.ID, status, errText, keywords); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))

	recStatus := events.StatusSuccess
	if status != harvest.StatusSucceeded {
		recStatus = events.StatusError
	}
	w.emit(events.EventJobDone, recStatus, job, errText, map[string]any{
		"job_id":      job.ID,
		"term":        req.Term,
		"status":      string(status),
		"returned":    len(keywords),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("source", req.Source),
		zap.String("term", req.Term),
		zap.String("status", string(status)),
		zap.Int("keywords", len(keywords)),
	)
}

// run executes the request. A job fails when nothing came back and the
// collector logged a new error while running it.
func (w *Worker) run(ctx context.Context, job harvest.Job) (harvest.Status, string, []keyword.Keyword) {
	c, err := w.collectors.Collector(job.Request.Source)
	if err != nil {
		return harvest.StatusFailed, err.Error(), nil
	}

	before := lastError(c.State())
	keywords := c.CollectKeywords(ctx, job.Request.Term, job.Request.Limit)

	switch {
	case ctx.Err() != nil:
		return harvest.StatusCanceled, fmt.Sprintf("job interrupted: %v", ctx.Err()), keywords
	case len(keywords) == 0:
		if after := lastError(c.State()); after != nil && (before == nil || after.ID != before.ID) {
			return harvest.StatusFailed, after.Message, keywords
		}
	}
	return harvest.StatusSucceeded, "", keywords
}

func lastError(st collector.StateSnapshot) *events.Record {
	if len(st.Errors) == 0 {
		return nil
	}
	return &st.Errors[len(st.Errors)-1]
}

func (w *Worker) emit(event string, status events.Status, job harvest.Job, message string, details map[string]any) {
	rec := events.NewRecord(event, status, job.Request.Source, message, details)
	if w.clock != nil {
		rec.Timestamp = w.clock.Now()
	}
	w.events.Emit(rec)
}
