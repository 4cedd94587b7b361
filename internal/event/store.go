package event

import (
	"sync"
	"time"
)

// Store is an append-only, insertion-ordered sequence of Records shared
// between the ingestion handlers (writers) and the verifier (reader).
// Appends are safe under concurrent HTTP handlers; reads return consistent
// snapshots. The store is unbounded for the lifetime of one test run and is
// cleared only by an explicit Reset.
type Store struct {
	mu      sync.RWMutex
	records []Record
	nextSeq int64
	matched map[int64]struct{}
}

func NewStore() *Store {
	return &Store{nextSeq: 1, matched: make(map[int64]struct{})}
}

// Append stores records in arrival order, assigning Seq and stamping
// ReceivedAt for any record that does not carry one yet. It returns the
// stored copies.
func (s *Store) Append(recs ...Record) []Record {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		r.Seq = s.nextSeq
		s.nextSeq++
		if r.ReceivedAt.IsZero() {
			r.ReceivedAt = now
		}
		s.records = append(s.records, r)
		out = append(out, r)
	}
	return out
}

// Snapshot returns a copy of all stored records in insertion order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Since returns records with Seq strictly greater than seq, in insertion
// order. Used by polling loops to scan only new arrivals.
func (s *Store) Since(seq int64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// records are seq-ordered, find the first one past seq
	i := 0
	for i < len(s.records) && s.records[i].Seq <= seq {
		i++
	}
	out := make([]Record, len(s.records)-i)
	copy(out, s.records[i:])
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LastSeq returns the highest assigned sequence number, 0 when empty.
func (s *Store) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// MarkMatched marks a record as consumed by a verifier check so subsequent
// consuming checks skip it.
func (s *Store) MarkMatched(seq int64) {
	s.mu.Lock()
	s.matched[seq] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) IsMatched(seq int64) bool {
	s.mu.RLock()
	_, ok := s.matched[seq]
	s.mu.RUnlock()
	return ok
}

// Reset clears all records and consume marks. Safe to call repeatedly;
// resetting an empty store is a no-op. Sequence numbering restarts so a new
// test case observes a fresh store.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = nil
	s.nextSeq = 1
	s.matched = make(map[int64]struct{})
	s.mu.Unlock()
}
