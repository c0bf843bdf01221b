package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/harvest"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	queuememory "github.com/JakeFAU/keyword-harvester/internal/queue/memory"
	"github.com/JakeFAU/keyword-harvester/internal/storage/memory"
	"github.com/JakeFAU/keyword-harvester/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, memory.NewJobStore(), nil, nil, nil, zap.NewNop())
	dispatch := New(queue, memory.NewJobStore(), &seqIDs{}, fixedClock{}, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, memory.NewJobStore(), &seqIDs{}, fixedClock{}, nil)

	err := dispatch.Enqueue(context.Background(), harvest.Job{ID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherSubmitMarksUnqueuedJobCanceled(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	dispatch := New(&errorQueue{err: errors.New("boom")}, store, &seqIDs{}, fixedClock{}, nil)

	_, err := dispatch.Submit(context.Background(), harvest.Request{Source: "discord", Term: "gaming", Limit: 1})
	require.EqualError(t, err, "queue enqueue: boom")

	job, err := dispatch.Job(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, harvest.StatusCanceled, job.Status)
}

func TestDispatcherSubmitValidates(t *testing.T) {
	t.Parallel()

	dispatch := New(queuememory.NewQueue(1), memory.NewJobStore(), &seqIDs{}, fixedClock{}, nil)
	_, err := dispatch.Submit(context.Background(), harvest.Request{Source: "discord"})
	require.ErrorContains(t, err, "invalid request")
}

func TestDispatcherHarvestPreservesOrder(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(4)
	store := memory.NewJobStore()
	collectors := echoCollectors{}
	workers := make([]*worker.Worker, 3)
	for i := range workers {
		workers[i] = worker.New(queue, store, collectors, nil, nil, zap.NewNop())
	}
	dispatch := New(queue, store, &seqIDs{}, fixedClock{}, workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatch.Run(ctx)

	reqs := []harvest.Request{
		{Source: "discord", Term: "alpha", Limit: 1},
		{Source: "imageboard", Term: "beta", Limit: 1},
		{Source: "discord", Term: "gamma", Limit: 1},
		{Source: "discord", Term: "delta", Limit: 1},
		{Source: "imageboard", Term: "epsilon", Limit: 1},
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	jobs, err := dispatch.Harvest(waitCtx, reqs)
	require.NoError(t, err)
	require.Len(t, jobs, len(reqs))
	for i, job := range jobs {
		require.Equal(t, harvest.StatusSucceeded, job.Status)
		require.Equal(t, reqs[i], job.Request)
		require.Len(t, job.Keywords, 1)
		require.Equal(t, reqs[i].Term+" echo", job.Keywords[0].Term)
		require.Equal(t, reqs[i].Source, job.Keywords[0].Source)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ harvest.Job) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (harvest.Job, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return harvest.Job{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, harvest.Job) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (harvest.Job, error) {
	return harvest.Job{}, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(0, 0).UTC() }

// echoCollectors returns a collector per source that answers "<term> echo".
type echoCollectors struct{}

func (echoCollectors) Collector(source string) (collector.Collector, error) {
	return echoCollector{name: source}, nil
}

type echoCollector struct {
	name string
}

func (e echoCollector) Name() string { return e.name }

func (e echoCollector) CollectKeywords(_ context.Context, term string, _ int) []keyword.Keyword {
	return []keyword.Keyword{{Term: term + " echo", Source: e.name}}
}

func (echoCollector) CollectMetrics(context.Context, []string) []keyword.Metrics { return nil }

func (echoCollector) ClassifyIntent(context.Context, []string) []keyword.Intent { return nil }

func (echoCollector) ValidateTerm(string) bool { return true }

func (echoCollector) ValidateSourceTerm(string) bool { return true }

func (e echoCollector) State() collector.StateSnapshot { return collector.StateSnapshot{Name: e.name} }

func (echoCollector) Close() error { return nil }
