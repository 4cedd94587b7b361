package mirror

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrortap/mirrortap/internal/metrics"
)

// Addon observes requests flowing through the intercepting proxy and mirrors
// matching bodies to the collector. Mirroring is fire-and-forget: it runs on
// a dedicated worker goroutine, bounded by its own timeout, and its failures
// are logged and swallowed. The analytics pipeline is best-effort and must
// never be load-bearing for the app's own traffic.
type Addon struct {
	target       Target
	collectorURL string
	client       *http.Client
	logger       *slog.Logger

	// queue is never closed: Observe must stay safe to call for the whole
	// proxy lifetime, including requests still in flight during shutdown.
	// Close signals stop instead; bodies observed after that are dropped.
	queue    chan []byte
	stop     chan struct{}
	closed   atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// Config for the addon. Zero Timeout/QueueSize get sensible defaults.
type Config struct {
	Target       Target
	CollectorURL string
	Timeout      time.Duration
	QueueSize    int
	Logger       *slog.Logger
}

func New(cfg Config) *Addon {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Addon{
		target:       cfg.Target,
		collectorURL: cfg.CollectorURL,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		queue:        make(chan []byte, size),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

// Observe inspects one proxied request. On a target match the body is queued
// for forwarding; the call never blocks on the collector. Returns whether the
// request matched.
func (a *Addon) Observe(host, path string, body []byte) bool {
	if !a.target.Matches(host, path) {
		return false
	}
	if a.closed.Load() {
		// Shutdown raced an in-flight request; the worker is gone.
		metrics.IncMirrorFailure("closed")
		return true
	}
	copied := make([]byte, len(body))
	copy(copied, body)
	select {
	case a.queue <- copied:
	default:
		// Queue full: drop rather than stall the intercepted request.
		a.logger.Warn("mirror queue full, dropping body", "host", host, "path", path)
		metrics.IncMirrorFailure("queue_full")
	}
	return true
}

// Close stops the forward worker after draining queued bodies. Observe stays
// callable afterwards; late bodies are dropped.
func (a *Addon) Close() {
	a.stopOnce.Do(func() {
		a.closed.Store(true)
		close(a.stop)
	})
	<-a.done
}

func (a *Addon) run() {
	defer close(a.done)
	for {
		select {
		case body := <-a.queue:
			a.forward(body)
		case <-a.stop:
			for {
				select {
				case body := <-a.queue:
					a.forward(body)
				default:
					return
				}
			}
		}
	}
}

func (a *Addon) forward(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), a.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.collectorURL, bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("mirror forward failed", "error", err)
		metrics.IncMirrorFailure("request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("mirror forward failed", "collector", a.collectorURL, "error", err)
		metrics.IncMirrorFailure("transport")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("collector rejected mirrored body", "status", resp.StatusCode)
		metrics.IncMirrorFailure("status")
		return
	}
	metrics.IncMirrorForward()
	a.logger.Debug("mirrored request body", "bytes", len(body))
}
