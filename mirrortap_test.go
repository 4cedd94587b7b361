package mirrortap

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
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

func newSession(t *testing.T) (*Session, string) {
	t.Helper()
	addr := freeAddr(t)
	s, err := NewSession(addr)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, "http://" + addr
}

func TestSessionEndToEnd(t *testing.T) {
	s, base := newSession(t)

	body := `[{"name":"checkout_started","data":{"cart_size":2}},{"name":"purchase","data":{"sku":"A-1"}}]`
	resp, err := http.Post(base+"/event", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post returned %d", resp.StatusCode)
	}

	rec, err := s.Verifier().WaitFor(context.Background(), Filter{
		Name:   "purchase",
		Subset: map[string]any{"sku": "A-1"},
	}, WaitOptions{Timeout: 2 * time.Second, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if rec.Name != "purchase" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if got := s.Verifier().QueryAll(Filter{}); len(got) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(got))
	}

	s.Reset()
	if s.Store().Len() != 0 {
		t.Fatalf("store not empty after Reset")
	}
	s.Reset()
}

func TestSessionBindConflict(t *testing.T) {
	addr := freeAddr(t)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("hold port: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if _, err := NewSession(addr); err == nil {
		t.Fatalf("NewSession should fail when the port is held")
	}
}

func TestSessionAsyncChecks(t *testing.T) {
	s, base := newSession(t)

	s.Verifier().CheckAsync(context.Background(), Filter{Name: "late_event"}, WaitOptions{
		Timeout:      2 * time.Second,
		PollInterval: 20 * time.Millisecond,
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		resp, err := http.Post(base+"/event", "application/json", strings.NewReader(`{"name":"late_event"}`))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	if err := s.Verifier().AwaitAll(); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}
}

func TestSessionCorrelateWithAction(t *testing.T) {
	s, base := newSession(t)

	// A stale identically-named event must not satisfy the correlation.
	resp, err := http.Post(base+"/event", "application/json", strings.NewReader(`{"name":"submit"}`))
	if err != nil {
		t.Fatalf("post stale event: %v", err)
	}
	_ = resp.Body.Close()
	time.Sleep(10 * time.Millisecond)

	rec, err := s.Verifier().CorrelateWithAction(context.Background(), func() error {
		go func() {
			time.Sleep(30 * time.Millisecond)
			r, err := http.Post(base+"/event", "application/json", strings.NewReader(`{"name":"submit"}`))
			if err == nil {
				_ = r.Body.Close()
			}
		}()
		return nil
	}, Filter{Name: "submit"}, 0, WaitOptions{Timeout: 2 * time.Second, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("CorrelateWithAction: %v", err)
	}
	if rec.Seq != 2 {
		t.Fatalf("correlated with the stale event: %+v", rec)
	}
}

func TestRegisterMetricsDefault(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	// Re-registration is tolerated.
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("second RegisterMetricsDefault: %v", err)
	}
}
