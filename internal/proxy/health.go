package proxy

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"
)

// healthStatus is the /healthz payload. The supervisor and the test setup
// poll it before relying on interception.
type healthStatus struct {
	Status string `json:"status"`
	Addr   string `json:"addr"`
	PID    int    `json:"pid"`
	TS     string `json:"ts"`
}

// IsListening reports whether something accepts TCP connections on addr.
func IsListening(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// NewHealthHandler serves GET /healthz reporting whether the proxy listener
// at proxyAddr is up.
func NewHealthHandler(proxyAddr string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := healthStatus{
			Status: "down",
			Addr:   proxyAddr,
			PID:    os.Getpid(),
			TS:     time.Now().UTC().Format(time.RFC3339),
		}
		if IsListening(proxyAddr) {
			st.Status = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
	return mux
}
