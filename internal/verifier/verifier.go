package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mirrortap/mirrortap/internal/event"
)

const (
	// DefaultPollInterval bounds the staleness of a wait without busy-spinning.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultTimeout is used by waits when the caller passes zero.
	DefaultTimeout = 10 * time.Second
	// seenCap limits how many observed events a timeout error reports.
	seenCap = 20
)

// TimeoutError reports a wait that elapsed without a match. It carries enough
// context to debug the failure: a missing event otherwise looks identical to
// a slow one.
type TimeoutError struct {
	Filter  string
	Timeout time.Duration
	// Seen summarizes events observed inside the wait window, capped.
	Seen      []string
	SeenTotal int
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no event matching [%s] within %s", e.Filter, e.Timeout)
	if e.SeenTotal == 0 {
		b.WriteString("; no events observed in the window")
		return b.String()
	}
	fmt.Fprintf(&b, "; observed %d event(s) in the window", e.SeenTotal)
	if len(e.Seen) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Seen, ", "))
		if e.SeenTotal > len(e.Seen) {
			fmt.Fprintf(&b, " ... (%d more)", e.SeenTotal-len(e.Seen))
		}
	}
	return b.String()
}

// Verifier is a stateless query/assertion layer over the collector's store.
// All state lives in the store; the verifier only reads (and marks consumed
// records). Even in-process it goes through the store's query surface, never
// through record internals, so the design stays portable to an out-of-process
// deployment.
type Verifier struct {
	store  *event.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending sync.WaitGroup
	results []asyncResult
}

type asyncResult struct {
	filter string
	err    error
}

func New(store *event.Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: store, logger: logger}
}

// QueryAll returns the full ordered sequence of stored records matching f.
// Snapshot-based: the result is finite, not a live stream.
func (v *Verifier) QueryAll(f Filter) []event.Record {
	var out []event.Record
	for _, rec := range v.store.Snapshot() {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// WaitOptions tunes a wait. Zero values fall back to defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// Consume marks the matched record so later consuming waits skip it.
	Consume bool
}

// WaitFor polls the store until a record matching f appears or timeout
// elapses, returning the earliest match by insertion order. Already-stored
// records are scanned first, then only new arrivals are examined per poll.
// The wait is abandoned when ctx is cancelled (test teardown).
func (v *Verifier) WaitFor(ctx context.Context, f Filter, opts WaitOptions) (event.Record, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	v.logger.Info("waiting for event", "filter", f.String(), "timeout", timeout)

	var seen []string
	seenTotal := 0
	observe := func(rec event.Record) {
		seenTotal++
		if len(seen) < seenCap {
			seen = append(seen, fmt.Sprintf("%s (seq=%d batch=%s)", rec.Name, rec.Seq, rec.BatchID))
		}
	}

	// Fast path over history, then poll only new arrivals.
	lastSeq := int64(0)
	for {
		for _, rec := range v.store.Since(lastSeq) {
			if rec.Seq > lastSeq {
				lastSeq = rec.Seq
			}
			if opts.Consume && v.store.IsMatched(rec.Seq) {
				continue
			}
			if f.Matches(rec) {
				if opts.Consume {
					v.store.MarkMatched(rec.Seq)
				}
				v.logger.Info("event matched", "name", rec.Name, "seq", rec.Seq)
				return rec, nil
			}
			observe(rec)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := poll
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return event.Record{}, ctx.Err()
		case <-time.After(sleep):
		}
	}

	v.logger.Warn("wait for event timed out", "filter", f.String(), "timeout", timeout, "seen", seenTotal)
	return event.Record{}, &TimeoutError{
		Filter:    f.String(),
		Timeout:   timeout,
		Seen:      seen,
		SeenTotal: seenTotal,
	}
}

// AssertContains waits for a matching record and returns a descriptive error
// on timeout. nil means the event arrived.
func (v *Verifier) AssertContains(ctx context.Context, f Filter, opts WaitOptions) error {
	_, err := v.WaitFor(ctx, f, opts)
	return err
}

// CorrelateWithAction performs a causal assertion: the matched event must
// have been received after the action started. It waits preDelay, stamps the
// action start time, invokes action, then waits for a record matching f whose
// ReceivedAt is not before the stamp.
func (v *Verifier) CorrelateWithAction(ctx context.Context, action func() error, f Filter, preDelay time.Duration, opts WaitOptions) (event.Record, error) {
	if preDelay > 0 {
		select {
		case <-ctx.Done():
			return event.Record{}, ctx.Err()
		case <-time.After(preDelay):
		}
	}
	start := time.Now().UTC()
	if action != nil {
		if err := action(); err != nil {
			return event.Record{}, fmt.Errorf("action failed: %w", err)
		}
	}
	if f.Since.IsZero() || f.Since.Before(start) {
		f.Since = start
	}
	return v.WaitFor(ctx, f, opts)
}

// CheckAsync starts a wait in the background. AwaitAll aggregates outcomes
// after the test body finishes.
func (v *Verifier) CheckAsync(ctx context.Context, f Filter, opts WaitOptions) {
	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		err := v.AssertContains(ctx, f, opts)
		v.mu.Lock()
		v.results = append(v.results, asyncResult{filter: f.String(), err: err})
		v.mu.Unlock()
	}()
}

// AwaitAll blocks until every background check finished and returns a
// combined error when any of them failed.
func (v *Verifier) AwaitAll() error {
	v.pending.Wait()
	v.mu.Lock()
	results := v.results
	v.results = nil
	v.mu.Unlock()

	var failed []string
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, fmt.Sprintf("[%s]: %v", r.filter, r.err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d background event check(s) failed:\n%s", len(failed), strings.Join(failed, "\n"))
	}
	return nil
}
