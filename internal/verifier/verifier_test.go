package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mirrortap/mirrortap/internal/event"
)

func newVerifier() (*Verifier, *event.Store) {
	store := event.NewStore()
	return New(store, nil), store
}

func appendNamed(store *event.Store, names ...string) []event.Record {
	recs := make([]event.Record, 0, len(names))
	for _, n := range names {
		recs = append(recs, event.Record{Name: n, Payload: json.RawMessage(`{}`)})
	}
	return store.Append(recs...)
}

func TestQueryAll(t *testing.T) {
	v, store := newVerifier()
	appendNamed(store, "a", "b", "a")

	got := v.QueryAll(Filter{Name: "a"})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Seq >= got[1].Seq {
		t.Fatalf("results out of insertion order")
	}
	if n := len(v.QueryAll(Filter{})); n != 3 {
		t.Fatalf("empty filter should match all, got %d", n)
	}
}

func TestWaitForExistingEvent(t *testing.T) {
	v, store := newVerifier()
	appendNamed(store, "first", "target")

	rec, err := v.WaitFor(context.Background(), Filter{Name: "target"}, WaitOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if rec.Name != "target" || rec.Seq != 2 {
		t.Fatalf("unexpected match: %+v", rec)
	}
}

func TestWaitForReturnsEarliestMatch(t *testing.T) {
	v, store := newVerifier()
	appendNamed(store, "dup", "dup")

	rec, err := v.WaitFor(context.Background(), Filter{Name: "dup"}, WaitOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if rec.Seq != 1 {
		t.Fatalf("expected earliest match seq=1, got %d", rec.Seq)
	}
}

func TestWaitForLateArrival(t *testing.T) {
	v, store := newVerifier()

	go func() {
		time.Sleep(50 * time.Millisecond)
		appendNamed(store, "late")
	}()

	start := time.Now()
	rec, err := v.WaitFor(context.Background(), Filter{Name: "late"}, WaitOptions{
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if rec.Name != "late" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Fatalf("wait did not return promptly after arrival: %s", elapsed)
	}
}

func TestWaitForTimeout(t *testing.T) {
	v, store := newVerifier()
	appendNamed(store, "other_a", "other_b")

	start := time.Now()
	_, err := v.WaitFor(context.Background(), Filter{Name: "never"}, WaitOptions{
		Timeout:      150 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Fatalf("returned before the timeout: %s", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("overshot the timeout badly: %s", elapsed)
	}
	if te.SeenTotal != 2 {
		t.Fatalf("expected 2 observed events, got %d", te.SeenTotal)
	}
	msg := te.Error()
	if !strings.Contains(msg, "other_a") || !strings.Contains(msg, "never") {
		t.Fatalf("timeout message lacks context: %s", msg)
	}
}

func TestWaitForContextCancel(t *testing.T) {
	v, _ := newVerifier()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := v.WaitFor(ctx, Filter{Name: "x"}, WaitOptions{Timeout: 5 * time.Second, PollInterval: 10 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForConsume(t *testing.T) {
	v, store := newVerifier()
	appendNamed(store, "dup", "dup")

	first, err := v.WaitFor(context.Background(), Filter{Name: "dup"}, WaitOptions{Timeout: time.Second, Consume: true})
	if err != nil {
		t.Fatalf("first wait: %v", err)
	}
	second, err := v.WaitFor(context.Background(), Filter{Name: "dup"}, WaitOptions{Timeout: time.Second, Consume: true})
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if first.Seq == second.Seq {
		t.Fatalf("consuming wait returned the same record twice (seq=%d)", first.Seq)
	}
	_, err = v.WaitFor(context.Background(), Filter{Name: "dup"}, WaitOptions{Timeout: 100 * time.Millisecond, PollInterval: 20 * time.Millisecond, Consume: true})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("third consuming wait should time out, got %v", err)
	}
}

func TestWaitForSubset(t *testing.T) {
	v, store := newVerifier()
	store.Append(
		event.Record{Name: "purchase", Payload: json.RawMessage(`{"data":{"sku":"A"}}`)},
		event.Record{Name: "purchase", Payload: json.RawMessage(`{"data":{"sku":"B"}}`)},
	)
	rec, err := v.WaitFor(context.Background(), Filter{
		Name:   "purchase",
		Subset: map[string]any{"sku": "B"},
	}, WaitOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if rec.Seq != 2 {
		t.Fatalf("subset selected the wrong record: %+v", rec)
	}
}

func TestCorrelateWithActionIgnoresPreActionEvents(t *testing.T) {
	v, store := newVerifier()
	// An identically-named event already in the store must not satisfy the
	// correlation: only post-action arrivals count.
	appendNamed(store, "submit")
	time.Sleep(10 * time.Millisecond)

	rec, err := v.CorrelateWithAction(context.Background(), func() error {
		go func() {
			time.Sleep(30 * time.Millisecond)
			appendNamed(store, "submit")
		}()
		return nil
	}, Filter{Name: "submit"}, 0, WaitOptions{Timeout: 2 * time.Second, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("CorrelateWithAction: %v", err)
	}
	if rec.Seq != 2 {
		t.Fatalf("correlated with the pre-action event: %+v", rec)
	}
}

func TestCorrelateWithActionPropagatesActionError(t *testing.T) {
	v, _ := newVerifier()
	boom := errors.New("tap failed")
	_, err := v.CorrelateWithAction(context.Background(), func() error { return boom }, Filter{Name: "x"}, 0, WaitOptions{Timeout: time.Second})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped action error, got %v", err)
	}
}

func TestCheckAsyncAwaitAll(t *testing.T) {
	v, store := newVerifier()

	opts := WaitOptions{Timeout: time.Second, PollInterval: 10 * time.Millisecond}
	v.CheckAsync(context.Background(), Filter{Name: "a"}, opts)
	v.CheckAsync(context.Background(), Filter{Name: "b"}, opts)

	appendNamed(store, "a", "b")
	if err := v.AwaitAll(); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}

	// Failures are aggregated with their filters.
	shortOpts := WaitOptions{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	v.CheckAsync(context.Background(), Filter{Name: "missing_one"}, shortOpts)
	v.CheckAsync(context.Background(), Filter{Name: "missing_two"}, shortOpts)
	err := v.AwaitAll()
	if err == nil {
		t.Fatalf("expected combined failure")
	}
	if !strings.Contains(err.Error(), "missing_one") || !strings.Contains(err.Error(), "missing_two") {
		t.Fatalf("combined error missing filters: %v", err)
	}
	// The result buffer is drained per AwaitAll call.
	if err := v.AwaitAll(); err != nil {
		t.Fatalf("second AwaitAll should be clean: %v", err)
	}
}

func TestFilterWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := event.Record{Name: "e", ReceivedAt: base, Payload: json.RawMessage(`{}`)}

	if !(Filter{Since: base}).Matches(rec) {
		t.Fatalf("window start is inclusive")
	}
	if (Filter{Until: base}).Matches(rec) {
		t.Fatalf("window end is exclusive")
	}
	if !(Filter{Since: base.Add(-time.Second), Until: base.Add(time.Second)}).Matches(rec) {
		t.Fatalf("record inside window rejected")
	}
	if (Filter{Since: base.Add(time.Second)}).Matches(rec) {
		t.Fatalf("record before Since accepted")
	}
}

func TestFilterNameModes(t *testing.T) {
	rec := event.Record{Name: "checkout_started", Payload: json.RawMessage(`{}`)}

	cases := []struct {
		mode MatchMode
		expr string
		want bool
	}{
		{MatchExact, "checkout_started", true},
		{MatchExact, "checkout", false},
		{MatchContains, "out_st", true},
		{MatchPrefix, "checkout", true},
		{MatchPrefix, "started", false},
		{MatchRegex, `^checkout_\w+$`, true},
		{MatchRegex, `^cart`, false},
	}
	for _, c := range cases {
		f := Filter{Name: c.expr, NameMode: c.mode}
		if got := f.Matches(rec); got != c.want {
			t.Fatalf("mode=%s expr=%q: got %v, want %v", c.mode, c.expr, got, c.want)
		}
	}
}

func TestFilterWhere(t *testing.T) {
	rec := event.Record{Name: "e", BatchID: "b-7", Payload: json.RawMessage(`{}`)}
	f := Filter{Where: func(r event.Record) bool { return r.BatchID == "b-7" }}
	if !f.Matches(rec) {
		t.Fatalf("predicate should match")
	}
	f.Where = func(r event.Record) bool { return false }
	if f.Matches(rec) {
		t.Fatalf("predicate should reject")
	}
}
