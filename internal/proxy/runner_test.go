package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mirrortap/mirrortap/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if IsListening(addr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s", addr)
}

func TestRunServesUntilCancelled(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	cfg := &config.Config{
		Mirror: config.MirrorConfig{
			Enabled:      true,
			TargetHost:   "api.analytics.example.com",
			TargetPath:   "/batch",
			CollectorURL: collector.URL + "/event",
		},
		Proxy: config.ProxyConfig{
			Listen:       freeAddr(t),
			HealthListen: freeAddr(t),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, nil) }()

	waitListening(t, cfg.Proxy.Listen)
	waitListening(t, cfg.Proxy.HealthListen)

	resp, err := http.Get("http://" + cfg.Proxy.HealthListen + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body := make([]byte, 512)
	n, _ := resp.Body.Read(body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body[:n]), `"status":"ok"`) {
		t.Fatalf("health payload: %s", body[:n])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if IsListening(cfg.Proxy.Listen) {
		t.Fatalf("proxy still listening after shutdown")
	}
}

func TestRunBindFailureIsFatal(t *testing.T) {
	addr := freeAddr(t)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("hold port: %v", err)
	}
	defer func() { _ = ln.Close() }()

	cfg := &config.Config{
		Proxy: config.ProxyConfig{Listen: addr},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Run(ctx, cfg, nil); err == nil {
		t.Fatalf("Run should fail when the proxy port is held")
	}
}
