package mirror

import (
	"net"
	"strings"
)

// Target describes the single outbound request pattern mirrored per test run.
//
// Host matching is exact and case-insensitive; a port in either side is
// ignored. Path matching is exact, except that a configured path ending in
// "/" matches any path under that prefix. Everything else passes through
// with zero side effects.
type Target struct {
	Host string
	Path string
}

// Matches reports whether a request to host+path should be mirrored.
func (t Target) Matches(host, path string) bool {
	if t.Host == "" {
		return false
	}
	h := host
	if hh, _, err := net.SplitHostPort(host); err == nil {
		h = hh
	}
	th := t.Host
	if thh, _, err := net.SplitHostPort(t.Host); err == nil {
		th = thh
	}
	if !strings.EqualFold(h, th) {
		return false
	}
	if t.Path == "" {
		return true
	}
	if strings.HasSuffix(t.Path, "/") {
		return strings.HasPrefix(path, t.Path) || path == strings.TrimSuffix(t.Path, "/")
	}
	return path == t.Path
}
