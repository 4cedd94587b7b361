package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mirrortap/mirrortap/internal/event"
)

// MatchMode selects how Filter.Name is compared against a record's name.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
	MatchPrefix   MatchMode = "prefix"
	MatchRegex    MatchMode = "regex"
)

// Filter describes which records a verifier operation should match.
// Zero-value fields are ignored. Filters must tolerate reordering between
// unrelated events: they constrain names, time windows and payload content,
// never absolute position.
type Filter struct {
	Name     string
	NameMode MatchMode // defaults to MatchExact
	// Since/Until bound ReceivedAt as [Since, Until).
	Since time.Time
	Until time.Time
	// Subset requires every key/value pair to appear somewhere in the payload
	// (ContainsSubset semantics).
	Subset map[string]any
	// Where is an arbitrary extra predicate.
	Where func(event.Record) bool
}

// Matches reports whether rec satisfies every set constraint.
func (f Filter) Matches(rec event.Record) bool {
	if f.Name != "" && !nameMatches(rec.Name, f.Name, f.NameMode) {
		return false
	}
	if !f.Since.IsZero() && rec.ReceivedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.ReceivedAt.Before(f.Until) {
		return false
	}
	if len(f.Subset) > 0 && !ContainsSubset(rec.Payload, f.Subset) {
		return false
	}
	if f.Where != nil && !f.Where(rec) {
		return false
	}
	return true
}

func (f Filter) String() string {
	var parts []string
	if f.Name != "" {
		mode := f.NameMode
		if mode == "" {
			mode = MatchExact
		}
		parts = append(parts, fmt.Sprintf("name %s %q", mode, f.Name))
	}
	if !f.Since.IsZero() {
		parts = append(parts, "since "+f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		parts = append(parts, "until "+f.Until.UTC().Format(time.RFC3339Nano))
	}
	if len(f.Subset) > 0 {
		parts = append(parts, fmt.Sprintf("subset %v", f.Subset))
	}
	if f.Where != nil {
		parts = append(parts, "custom predicate")
	}
	if len(parts) == 0 {
		return "any event"
	}
	return strings.Join(parts, ", ")
}

func nameMatches(actual, expected string, mode MatchMode) bool {
	switch mode {
	case MatchContains:
		return strings.Contains(actual, expected)
	case MatchPrefix:
		return strings.HasPrefix(actual, expected)
	case MatchRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return actual == expected
	}
}
