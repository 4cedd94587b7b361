package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mirrortap/mirrortap/internal/mirror"
)

// Hop-by-hop headers are consumed by the proxy hop and must not be relayed.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy is the traffic-intercepting HTTP proxy the mirror addon hooks into.
// Plain-HTTP requests are observed (and mirrored when they match the target)
// then passed through unmodified; CONNECT requests become transparent byte
// tunnels, so TLS traffic is never altered or inspected.
type Proxy struct {
	addon     *mirror.Addon
	transport http.RoundTripper
	logger    *slog.Logger
	// maxBodyBytes caps how much of a request body is buffered for
	// observation. Analytics batches are small; anything larger is passed
	// through without mirroring rather than held in memory.
	maxBodyBytes int64
}

type Option func(*Proxy)

// WithAddon attaches the mirror addon. Without it the proxy is a plain
// pass-through.
func WithAddon(a *mirror.Addon) Option {
	return func(p *Proxy) { p.addon = a }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.transport = rt }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

func New(opts ...Option) *Proxy {
	p := &Proxy{
		transport:    http.DefaultTransport,
		logger:       slog.Default(),
		maxBodyBytes: 4 << 20,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.tunnel(w, r)
		return
	}
	p.forward(w, r)
}

// forward relays a plain-HTTP proxied request upstream. The original
// request's latency and content must be unaffected by mirroring: the addon
// only ever copies the already-buffered body and never blocks.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		// A proxy only accepts absolute-URI requests; anything else is a
		// client speaking origin-form at us by mistake.
		http.Error(w, "this is a proxy server", http.StatusBadRequest)
		return
	}

	// Buffer at most maxBodyBytes+1: enough to observe analytics-sized
	// bodies and to detect oversized ones without holding them in memory.
	head, err := io.ReadAll(io.LimitReader(r.Body, p.maxBodyBytes+1))
	if err != nil {
		http.Error(w, "read request body: "+err.Error(), http.StatusBadGateway)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	removeHopByHop(out.Header)

	if int64(len(head)) <= p.maxBodyBytes {
		_ = r.Body.Close()
		if p.addon != nil {
			p.addon.Observe(r.URL.Host, r.URL.Path, head)
		}
		out.Body = io.NopCloser(bytes.NewReader(head))
		out.ContentLength = int64(len(head))
	} else {
		// Oversized: skip observation, stream the remainder through.
		out.Body = io.NopCloser(io.MultiReader(bytes.NewReader(head), r.Body))
	}

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		p.logger.Warn("upstream request failed", "url", r.URL.String(), "error", err)
		http.Error(w, "upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHop(resp.Header)
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// tunnel establishes a transparent CONNECT byte pipe. Nothing inside the
// tunnel is observed.
func (p *Proxy) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, "dial upstream: "+err.Error(), http.StatusBadGateway)
		return
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		_ = upstream.Close()
		http.Error(w, "hijack: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	go pipe(upstream, client)
	go pipe(client, upstream)
}

func pipe(dst, src net.Conn) {
	defer func() { _ = dst.Close() }()
	defer func() { _ = src.Close() }()
	_, _ = io.Copy(dst, src)
}

func removeHopByHop(h http.Header) {
	for _, f := range strings.Split(h.Get("Connection"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			h.Del(f)
		}
	}
	for _, k := range hopByHop {
		h.Del(k)
	}
}
