package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
	"github.com/JakeFAU/keyword-harvester/internal/policy/breaker"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
	"github.com/JakeFAU/keyword-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-harvester/internal/policy/retry"
)

func TestGetJSONSendsFixedHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotQuery = r.URL.Query()
		require.Equal(t, "/guilds/1/messages/search", r.URL.Path)
		_, _ = w.Write([]byte(`{"total_results": 7}`))
	}))
	t.Cleanup(srv.Close)

	m := NewManager("discord", Config{BaseURL: srv.URL + "/", AuthValue: "Bot secret", UserAgent: "test-agent"}, nil)
	t.Cleanup(m.Close)

	var out struct {
		Total int `json:"total_results"`
	}
	err := m.Use(context.Background(), func(ctx context.Context, s *Session) error {
		return s.GetJSON(ctx, "search", "/guilds/1/messages/search", url.Values{"content": {"gaming"}}, &out)
	})
	require.NoError(t, err)
	require.Equal(t, 7, out.Total)
	require.Equal(t, "Bot secret", got.Get("Authorization"))
	require.Equal(t, "test-agent", got.Get("User-Agent"))
	require.Equal(t, "pt-BR,pt;q=0.9,en;q=0.8", got.Get("Accept-Language"))
	require.Equal(t, "gaming", gotQuery.Get("content"))
}

func TestGetJSONClassifiesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/broken":
			_, _ = w.Write([]byte("{not json"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	m := NewManager("imageboard", Config{BaseURL: srv.URL}, nil)
	t.Cleanup(m.Close)

	check := func(path string, want error) {
		err := m.Use(context.Background(), func(ctx context.Context, s *Session) error {
			var out map[string]any
			return s.GetJSON(ctx, "catalog", path, nil, &out)
		})
		require.ErrorIs(t, err, want, path)
	}
	check("/limited", apierr.ErrRateLimited)
	check("/forbidden", apierr.ErrAuth)
	check("/broken", apierr.ErrPermanent)
	check("/gateway", apierr.ErrTransient)
}

func TestConcurrentFirstUseCreatesOneSession(t *testing.T) {
	t.Parallel()

	m := NewManager("discord", Config{BaseURL: "http://127.0.0.1"}, nil)
	t.Cleanup(m.Close)

	var wg sync.WaitGroup
	clients := make([]*http.Client, 20)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Use(context.Background(), func(_ context.Context, s *Session) error {
				clients[i] = s.Client()
				return nil
			})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, m.Created())
	for _, c := range clients {
		require.Same(t, clients[0], c)
	}
	require.Zero(t, m.ActiveLeases())
}

func TestUseIsReentrant(t *testing.T) {
	t.Parallel()

	m := NewManager("discord", Config{BaseURL: "http://127.0.0.1"}, nil)
	t.Cleanup(m.Close)

	err := m.Use(context.Background(), func(ctx context.Context, outer *Session) error {
		return m.Use(ctx, func(_ context.Context, inner *Session) error {
			require.Same(t, outer, inner)
			require.Equal(t, 2, m.ActiveLeases())
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.Created())
	require.Zero(t, m.ActiveLeases())
}

func TestLeaseReleasedOnErrorPanicAndCancellation(t *testing.T) {
	t.Parallel()

	m := NewManager("discord", Config{BaseURL: "http://127.0.0.1"}, nil)
	t.Cleanup(m.Close)

	boom := errors.New("boom")
	require.ErrorIs(t, m.Use(context.Background(), func(context.Context, *Session) error { return boom }), boom)
	require.Zero(t, m.ActiveLeases())

	require.Panics(t, func() {
		_ = m.Use(context.Background(), func(context.Context, *Session) error { panic("bad") })
	})
	require.Zero(t, m.ActiveLeases())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Use(ctx, func(ctx context.Context, _ *Session) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	require.Eventually(t, func() bool { return m.ActiveLeases() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, m.ActiveLeases())

	require.ErrorIs(t, m.Use(ctx, func(context.Context, *Session) error { return nil }), context.Canceled)
}

func TestCloseDropsSession(t *testing.T) {
	t.Parallel()

	m := NewManager("discord", Config{BaseURL: "http://127.0.0.1"}, nil)
	require.NoError(t, m.Use(context.Background(), func(context.Context, *Session) error { return nil }))
	m.Close()
	require.NoError(t, m.Use(context.Background(), func(context.Context, *Session) error { return nil }))
	require.Equal(t, 2, m.Created())
	m.Close()
}

func TestGetJSONTakesOneRateLimitSlotPerRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	p, err := pipeline.Build("discord", pipeline.SourceConfig{
		RateLimit: ratelimit.Config{Limit: 1, Window: 10 * time.Second},
	}, nil, nil)
	require.NoError(t, err)
	m := NewManager("discord", Config{BaseURL: srv.URL, Pipeline: p}, nil)
	t.Cleanup(m.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = m.Use(ctx, func(ctx context.Context, s *Session) error {
		for _, path := range []string{"/users/@me/guilds", "/guilds/1/channels", "/guilds/1/messages/search"} {
			var out []any
			if err := s.GetJSON(ctx, "list", path, nil, &out); err != nil {
				return err
			}
		}
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(1), hits.Load())
}

func TestGetJSONRetriesOnlyTheFailedRequest(t *testing.T) {
	t.Parallel()

	var guilds, searches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/guilds" {
			guilds.Add(1)
			_, _ = w.Write([]byte(`[]`))
			return
		}
		if searches.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	p, err := pipeline.Build("discord", pipeline.SourceConfig{
		Breaker: breaker.Config{FailureThreshold: 5, ResetTimeout: time.Minute},
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, nil, nil)
	require.NoError(t, err)
	m := NewManager("discord", Config{BaseURL: srv.URL, Pipeline: p}, nil)
	t.Cleanup(m.Close)

	err = m.Use(context.Background(), func(ctx context.Context, s *Session) error {
		var out []any
		if err := s.GetJSON(ctx, "guilds", "/guilds", nil, &out); err != nil {
			return err
		}
		return s.GetJSON(ctx, "search", "/search", nil, &out)
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), guilds.Load())
	require.Equal(t, int32(2), searches.Load())
	require.Zero(t, p.Breaker().Snapshot(context.Background()).FailureCount)
}
