// Package dispatcher manages worker fan-out over the harvest job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/keyword-harvester/internal/harvest"
	"github.com/JakeFAU/keyword-harvester/internal/worker"
)

// Dispatcher fans out queued jobs to a pool of workers.
type Dispatcher struct {
	queue    harvest.Queue
	jobStore harvest.JobStore
	ids      harvest.IDGenerator
	clock    harvest.Clock
	workers  []*worker.Worker
}

// New creates a Dispatcher.
func New(
	queue harvest.Queue,
	jobStore harvest.JobStore,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	workers []*worker.Worker,
) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job harvest.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit registers a job for req and queues it. It blocks while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, req harvest.Request) (harvest.Job, error) {
	if err := req.Validate(); err != nil {
		return harvest.Job{}, fmt.Errorf("invalid request: %w", err)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return harvest.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := harvest.Job{
		ID:        id,
		Request:   req,
		Status:    harvest.StatusQueued,
		Submitted: d.clock.Now(),
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, job); err != nil {
		if uerr := d.jobStore.Complete(context.WithoutCancel(ctx), id, harvest.StatusCanceled, err.Error(), nil); uerr != nil {
			return harvest.Job{}, fmt.Errorf("%w (mark canceled: %w)", err, uerr)
		}
		return harvest.Job{}, err
	}
	return job, nil
}

// Harvest submits every request and waits for all of them. Jobs come back in
// request order regardless of completion order. Run must be active.
func (d *Dispatcher) Harvest(ctx context.Context, reqs []harvest.Request) ([]harvest.Job, error) {
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		job, err := d.Submit(ctx, req)
		if err != nil {
			return nil, err
		}
		ids = append(ids, job.ID)
	}
	out := make([]harvest.Job, 0, len(ids))
	for _, id := range ids {
		job, err := d.jobStore.Wait(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Job returns the current state of a submitted job.
func (d *Dispatcher) Job(ctx context.Context, id string) (harvest.Job, error) {
	job, err := d.jobStore.GetJob(ctx, id)
	if err != nil {
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
