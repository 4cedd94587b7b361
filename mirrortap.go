package mirrortap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/mirrortap/mirrortap/internal/config"
	"github.com/mirrortap/mirrortap/internal/event"
	"github.com/mirrortap/mirrortap/internal/history"
	"github.com/mirrortap/mirrortap/internal/history/factory"
	"github.com/mirrortap/mirrortap/internal/metrics"
	"github.com/mirrortap/mirrortap/internal/mirror"
	iapi "github.com/mirrortap/mirrortap/internal/server"
	"github.com/mirrortap/mirrortap/internal/supervisor"
	"github.com/mirrortap/mirrortap/internal/verifier"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = event.Record

type Store = event.Store

type Filter = verifier.Filter

type WaitOptions = verifier.WaitOptions

type TimeoutError = verifier.TimeoutError

type MirrorTarget = mirror.Target

type Config = cfg.Config

type Supervisor = supervisor.Supervisor

type HistorySink = history.Sink

// Session owns the per-test-run event store and collector server.
// Construct one per test session, share its Verifier with tests, and Close it
// on teardown. The store is reachable only through the session, keeping the
// design portable to a fully out-of-process deployment.
type Session struct {
	store    *event.Store
	router   *iapi.Router
	server   *http.Server
	verifier *verifier.Verifier
}

// NewSession binds the collector on addr and returns a running session.
// A bind failure is returned immediately; it is fatal for the test setup.
func NewSession(addr string, opts ...iapi.Option) (*Session, error) {
	store := event.NewStore()
	srv, router, err := iapi.NewServer(addr, "", store, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{
		store:    store,
		router:   router,
		server:   srv,
		verifier: verifier.New(store, slog.Default()),
	}, nil
}

func (s *Session) Store() *Store { return s.store }

func (s *Session) Verifier() *verifier.Verifier { return s.verifier }

// Reset clears the store between test cases. Idempotent.
func (s *Session) Reset() { s.store.Reset() }

// Close shuts the collector down gracefully.
func (s *Session) Close(ctx context.Context) error { return s.server.Shutdown(ctx) }

// Server options, re-exported for session construction.

func WithNameField(path string) iapi.Option   { return iapi.WithNameField(path) }
func WithArchive(sink HistorySink) iapi.Option { return iapi.WithArchive(sink) }
func WithLogger(l *slog.Logger) iapi.Option   { return iapi.WithLogger(l) }

// LoadConfig reads the TOML/env configuration with documented defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewSupervisor builds a supervisor for the external proxy process.
func NewSupervisor(c Config, log *slog.Logger) *Supervisor {
	return supervisor.New(c, log)
}

// NewArchiveSink opens a history sink from a DSN
// (sqlite/postgres/clickhouse/opensearch).
func NewArchiveSink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
