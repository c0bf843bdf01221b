// Package session owns the pooled HTTP client a collector instance talks to its
// platform with. The client is created lazily on first use with the collector's
// fixed headers and is shared by every lease the instance takes.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
)

const (
	// DefaultTimeout bounds a single request when the caller sets no deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxIdleConnsPerHost is the idle pool size per platform host.
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long an idle connection is kept.
	DefaultIdleConnTimeout = 90 * time.Second
	// DefaultTLSHandshakeTimeout is the TLS handshake timeout.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	defaultUserAgent      = "keyword-harvester/1.0"
	defaultAcceptLanguage = "pt-BR,pt;q=0.9,en;q=0.8"
	maxBodyBytes          = 8 << 20
)

// Config holds the fixed connection settings for one collector.
type Config struct {
	BaseURL        string
	UserAgent      string
	AcceptLanguage string
	// AuthHeader defaults to Authorization when AuthValue is set.
	AuthHeader string
	AuthValue  string
	Timeout    time.Duration
	// MaxIdleConnsPerHost sizes the connection pool.
	MaxIdleConnsPerHost int
	// Transport replaces the pooled transport. Optional.
	Transport http.RoundTripper
	// Pipeline guards every request: each one takes its own rate-limit slot,
	// passes the breaker and is retried on its own. Optional.
	Pipeline *pipeline.Pipeline
}

// Manager hands out leases on a lazily created session.
type Manager struct {
	source string
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	session   *Session
	transport *http.Transport
	leases    int
	created   int
}

// NewManager creates a manager for source. No connection is opened until Use.
func NewManager(source string, cfg Config, logger *zap.Logger) *Manager {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if cfg.AuthValue != "" && cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{source: source, cfg: cfg, logger: logger}
}

// Use leases the session for the duration of fn. Nested calls reuse the open
// session. The lease is released however fn returns, including on panic or
// cancellation.
func (m *Manager) Use(ctx context.Context, fn func(context.Context, *Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.acquire()
	defer m.release()
	return fn(ctx, s)
}

func (m *Manager) acquire() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		m.session = m.newSession()
		m.created++
		m.logger.Debug("session opened", zap.String("source", m.source))
	}
	m.leases++
	return m.session
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases > 0 {
		m.leases--
	}
}

func (m *Manager) newSession() *Session {
	base := m.cfg.Transport
	if base == nil {
		m.transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        m.cfg.MaxIdleConnsPerHost * 2,
			MaxIdleConnsPerHost: m.cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
			TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		}
		base = m.transport
	}
	headers := http.Header{}
	headers.Set("User-Agent", m.cfg.UserAgent)
	headers.Set("Accept-Language", m.cfg.AcceptLanguage)
	headers.Set("Accept", "application/json")
	if m.cfg.AuthValue != "" {
		headers.Set(m.cfg.AuthHeader, m.cfg.AuthValue)
	}
	return &Session{
		source:   m.source,
		baseURL:  m.cfg.BaseURL,
		pipeline: m.cfg.Pipeline,
		client: &http.Client{
			Timeout:   m.cfg.Timeout,
			Transport: &headerTransport{base: base, headers: headers},
		},
	}
}

// ActiveLeases returns the number of outstanding leases.
func (m *Manager) ActiveLeases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases
}

// Created returns how many sessions have been opened over the manager's lifetime.
func (m *Manager) Created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

// Close drops the session and its idle connections. A later Use opens a new one.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport != nil {
		m.transport.CloseIdleConnections()
		m.transport = nil
	}
	if m.session != nil {
		m.logger.Debug("session closed", zap.String("source", m.source))
	}
	m.session = nil
}

// Session issues requests against one platform.
type Session struct {
	source   string
	baseURL  string
	pipeline *pipeline.Pipeline
	client   *http.Client
}

// Client exposes the underlying HTTP client.
func (s *Session) Client() *http.Client {
	return s.client
}

// URL joins path and query onto the base URL.
func (s *Session) URL(path string, query url.Values) string {
	u := s.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON fetches path and decodes the JSON body into out, through the session's
// pipeline when it has one. Failures are classified as *apierr.Error, except
// cancellation of ctx which is returned as is.
func (s *Session) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if s.pipeline == nil {
		return s.getJSON(ctx, op, path, query, out)
	}
	return s.pipeline.Do(ctx, func(ctx context.Context) error {
		return s.getJSON(ctx, op, path, query, out)
	})
}

func (s *Session) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(path, query), nil)
	if err != nil {
		return apierr.New(apierr.KindPermanent, s.source, op, fmt.Errorf("build request: %w", err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return apierr.FromTransport(ctx, s.source, op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	if err := apierr.FromStatus(s.source, op, resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return apierr.FromTransport(ctx, s.source, op, err)
		}
		return apierr.New(apierr.KindPermanent, s.source, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, vals := range t.headers {
		if clone.Header.Get(k) == "" {
			for _, v := range vals {
				clone.Header.Add(k, v)
			}
		}
	}
	return t.base.RoundTrip(clone)
}
