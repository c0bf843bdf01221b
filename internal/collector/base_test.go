package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
	"github.com/JakeFAU/keyword-harvester/internal/events"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
	"github.com/JakeFAU/keyword-harvester/internal/policy/retry"
	"github.com/JakeFAU/keyword-harvester/internal/session"
)

type fakeSource struct {
	mu            sync.Mutex
	candidates    []string
	discoverErr   error
	measureErr    error
	reject        string
	onMeasure     func()
	discoverCalls int
	measureCalls  int
}

func (f *fakeSource) ValidateSourceTerm(term string) bool {
	return f.reject == "" || term != f.reject
}

func (f *fakeSource) Discover(context.Context, *session.Session, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return append([]string(nil), f.candidates...), nil
}

func (f *fakeSource) Measure(_ context.Context, _ *session.Session, term string) (keyword.Metrics, error) {
	f.mu.Lock()
	f.measureCalls++
	hook := f.onMeasure
	err := f.measureErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return keyword.Metrics{}, err
	}
	return keyword.Metrics{Volume: keyword.VolumeBucket(len(term) * 10), Competition: 0.3, Counts: map[string]int{"total": len(term)}}, nil
}

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls, f.measureCalls
}

type captureEmitter struct {
	mu   sync.Mutex
	recs []events.Record
}

func (c *captureEmitter) Emit(rec events.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureEmitter) byStatus(status events.Status) []events.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Record
	for _, r := range c.recs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func newTestBase(t *testing.T, src Source, settings Settings, emitter events.Emitter) *Base {
	t.Helper()
	p, err := pipeline.Build("fake", pipeline.SourceConfig{
		Retry: retry.Policy{MaxAttempts: 1},
	}, nil, nil)
	require.NoError(t, err)
	b := NewBase("fake", src, Deps{Pipeline: p, Events: emitter}, settings)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func candidates(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("candidate %02d", i)
	}
	return out
}

func TestValidateTerm(t *testing.T) {
	t.Parallel()

	b := newTestBase(t, &fakeSource{}, Settings{MaxTermLength: 10}, nil)
	require.False(t, b.ValidateTerm(""))
	require.False(t, b.ValidateTerm("   "))
	require.False(t, b.ValidateTerm("eleven char"))
	require.True(t, b.ValidateTerm("ten chars!"))
	require.True(t, b.ValidateTerm("  padded  "))
}

func TestCollectKeywordsCapsDedupesAndExcludesSeed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{candidates: append([]string{"gaming", "candidate 00"}, candidates(25)...)}
	emitter := &captureEmitter{}
	b := newTestBase(t, src, Settings{}, emitter)

	got := b.CollectKeywords(context.Background(), "Gaming", 10)
	require.Len(t, got, 10)
	for i, kw := range got {
		require.Equal(t, fmt.Sprintf("candidate %02d", i), kw.Term)
		require.Equal(t, "fake", kw.Source)
		require.NoError(t, kw.Validate())
		require.Equal(t, "lexico", kw.Metadata["intencao_fonte"])
		require.Equal(t, "gaming", kw.Metadata["termo_semente"])
	}
	_, measures := src.calls()
	require.Equal(t, 10, measures)

	st := b.State()
	require.Equal(t, int64(10), st.TotalCollected)
	require.False(t, st.LastRun.IsZero())
	require.Empty(t, st.Errors)
	require.Len(t, emitter.byStatus(events.StatusSuccess), 1)
}

func TestCollectKeywordsRejectsInvalidTerms(t *testing.T) {
	t.Parallel()

	src := &fakeSource{candidates: candidates(3), reject: "forbidden"}
	b := newTestBase(t, src, Settings{MaxTermLength: 20}, nil)

	require.Empty(t, b.CollectKeywords(context.Background(), "", 5))
	require.Empty(t, b.CollectKeywords(context.Background(), "this term is far too long", 5))
	require.Empty(t, b.CollectKeywords(context.Background(), "Forbidden", 5))

	discovers, _ := src.calls()
	require.Zero(t, discovers)
	st := b.State()
	require.Len(t, st.Errors, 3)
	for _, rec := range st.Errors {
		require.Equal(t, "validation", rec.Details["error_kind"])
	}
}

func TestCollectKeywordsNeverFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{discoverErr: apierr.FromStatus("fake", "search", http.StatusForbidden)}
	emitter := &captureEmitter{}
	b := newTestBase(t, src, Settings{}, emitter)

	got := b.CollectKeywords(context.Background(), "gaming", 10)
	require.NotNil(t, got)
	require.Empty(t, got)

	st := b.State()
	require.Len(t, st.Errors, 1)
	rec := st.Errors[0]
	require.Equal(t, events.EventCollectKeywords, rec.Event)
	require.Equal(t, events.StatusError, rec.Status)
	require.Equal(t, "fake", rec.Source)
	require.Equal(t, "auth", rec.Details["error_kind"])
	require.False(t, rec.Timestamp.IsZero())
	require.True(t, st.LastRun.IsZero())
	require.Len(t, emitter.byStatus(events.StatusError), 1)
}

func TestCollectKeywordsUsesFloorMetricsWhenMeasureFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{candidates: candidates(2), measureErr: apierr.FromStatus("fake", "search", http.StatusNotFound)}
	b := newTestBase(t, src, Settings{}, nil)

	got := b.CollectKeywords(context.Background(), "gaming", 5)
	require.Len(t, got, 2)
	for _, kw := range got {
		require.Equal(t, 10, kw.Volume)
		require.InDelta(t, 0.1, kw.Competition, 1e-9)
	}
	require.Len(t, b.State().Errors, 2)
}

func TestCollectKeywordsLongTailFilter(t *testing.T) {
	t.Parallel()

	src := &fakeSource{candidates: []string{"curto", "melhor teclado mecanico barato", "duas palavras"}}
	b := newTestBase(t, src, Settings{LongTailFilter: true}, nil)

	got := b.CollectKeywords(context.Background(), "teclado", 10)
	require.Len(t, got, 1)
	require.Equal(t, "melhor teclado mecanico barato", got[0].Term)
}

func TestCollectKeywordsDiscoveryCacheHit(t *testing.T) {
	t.Parallel()

	src := &fakeSource{discoverErr: errors.New("must not be called")}
	b := newTestBase(t, src, Settings{}, nil)
	require.NoError(t, b.Cache().Put(context.Background(), OpSuggestions, "gaming", []string{"a", "b"}, time.Hour))

	got := b.CollectKeywords(context.Background(), "gaming", 10)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Term)
	require.Equal(t, "b", got[1].Term)
	discovers, _ := src.calls()
	require.Zero(t, discovers)
}

func TestCollectKeywordsCancellationReturnsPartialAndReleasesSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{candidates: candidates(5)}
	src.onMeasure = cancel
	b := newTestBase(t, src, Settings{}, nil)

	got := b.CollectKeywords(ctx, "gaming", 5)
	require.LessOrEqual(t, len(got), 1)
	require.Zero(t, b.Sessions().ActiveLeases())
	require.NotEmpty(t, b.State().Errors)
}

func TestErrorLogIsBounded(t *testing.T) {
	t.Parallel()

	b := newTestBase(t, &fakeSource{}, Settings{ErrorLogSize: 3}, nil)
	for i := 0; i < 5; i++ {
		b.RecordError(events.EventCollectKeywords, fmt.Sprintf("t%d", i), errors.New("boom"), nil)
	}
	errs := b.State().Errors
	require.Len(t, errs, 3)
	require.Equal(t, "t2", errs[0].Details["term"])
	require.Equal(t, "t4", errs[2].Details["term"])
}

func TestStateIsACopy(t *testing.T) {
	t.Parallel()

	b := newTestBase(t, &fakeSource{}, Settings{Config: map[string]any{"region": "br"}}, nil)
	st := b.State()
	st.Config["region"] = "us"
	require.Equal(t, "br", b.State().Config["region"])
	require.Equal(t, "fake", st.Name)
}

func TestCollectMetricsOrderAndBatchCache(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	b := newTestBase(t, src, Settings{}, nil)
	terms := []string{"alpha", "Beta Gamma", "delta"}

	first := b.CollectMetrics(context.Background(), terms)
	require.Len(t, first, 3)
	require.Equal(t, "alpha", first[0].Term)
	require.Equal(t, "beta gamma", first[1].Term)
	require.Equal(t, "fake", first[2].Source)
	_, measures := src.calls()
	require.Equal(t, 3, measures)

	second := b.CollectMetrics(context.Background(), terms)
	require.Equal(t, first, second)
	_, measures = src.calls()
	require.Equal(t, 3, measures)

	b.CollectMetrics(context.Background(), []string{"delta", "alpha"})
	_, measures = src.calls()
	require.Equal(t, 3, measures, "per-term metrics are cached too")
}

func TestCollectMetricsFailureKeepsFloorsAndSkipsBatchCache(t *testing.T) {
	t.Parallel()

	src := &fakeSource{measureErr: apierr.FromStatus("fake", "search", http.StatusNotFound)}
	b := newTestBase(t, src, Settings{}, nil)

	got := b.CollectMetrics(context.Background(), []string{"alpha", ""})
	require.Len(t, got, 2)
	for _, m := range got {
		require.Equal(t, 10, m.Volume)
		require.InDelta(t, 0.1, m.Competition, 1e-9)
	}

	require.Empty(t, b.CollectMetrics(context.Background(), nil))
}

func TestClassifyIntentOrder(t *testing.T) {
	t.Parallel()

	b := newTestBase(t, &fakeSource{}, Settings{}, nil)
	got := b.ClassifyIntent(context.Background(), []string{"comprar gpu", "gaming", "melhor gpu"})
	require.Equal(t, []keyword.Intent{
		keyword.IntentTransactional,
		keyword.IntentInformational,
		keyword.IntentCommercial,
	}, got)
}
