package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mirrortap/mirrortap/internal/event"
	"github.com/mirrortap/mirrortap/internal/history"
	"github.com/mirrortap/mirrortap/internal/metrics"
)

// Router provides embeddable HTTP handlers for the batch ingestion collector.
// Endpoints:
//
//	POST   {basePath}/event    body: JSON event object or array of objects
//	GET    {basePath}/health   readiness probe
//	GET    {basePath}/events   ordered dump of stored records (query: name, since_seq)
//	DELETE {basePath}/events   reset the store (idempotent)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	store     *event.Store
	basePath  string
	nameField string
	archive   history.Sink
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithNameField sets the dot-separated payload path used to extract an
// event's name. Default "name"; missing fields fall back to "unknown".
func WithNameField(path string) Option {
	return func(r *Router) { r.nameField = path }
}

// WithArchive attaches a history sink; every stored record is forwarded to it
// best-effort (failures are logged, ingestion is unaffected).
func WithArchive(s history.Sink) Option {
	return func(r *Router) { r.archive = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter constructs a new Router over the given store with configurable basePath.
func NewRouter(store *event.Store, basePath string, opts ...Option) *Router {
	r := &Router{
		store:     store,
		basePath:  sanitizeBase(basePath),
		nameField: "name",
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store exposes the underlying event store for the in-process verifier.
func (r *Router) Store() *event.Store { return r.store }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/event", r.handleEvent)
	group.GET("/health", r.handleHealth)
	group.GET("/events", r.handleQuery)
	group.DELETE("/events", r.handleReset)
	return g
}

// NewServer starts a standalone collector HTTP server on addr using a Router
// over store. The listener is bound synchronously so port conflicts surface
// immediately as a fatal setup error instead of a later "event not found".
func NewServer(addr, basePath string, store *event.Store, opts ...Option) (*http.Server, *Router, error) {
	r := NewRouter(store, basePath, opts...)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, r, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// BatchResult reports how many elements of a batch were stored.
type BatchResult struct {
	Stored  int    `json:"stored"`
	BatchID string `json:"batch_id"`
}

func (r *Router) handleEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		metrics.IncBatch("error")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	resp, err := r.Ingest(c.Request.Context(), body)
	if err != nil {
		metrics.IncBatch("malformed")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// Ingest parses body as a single JSON event or an array of events, appends one
// Record per well-formed element (all sharing a fresh batch id) and archives
// them when a sink is attached. A malformed element is skipped with a logged
// warning; a malformed body returns an error and leaves the store untouched.
func (r *Router) Ingest(ctx context.Context, body []byte) (BatchResult, error) {
	elements, err := splitBatch(body)
	if err != nil {
		return BatchResult{}, err
	}

	batchID := uuid.NewString()
	recs := make([]event.Record, 0, len(elements))
	for _, el := range elements {
		var obj map[string]any
		if err := json.Unmarshal(el, &obj); err != nil {
			// One bad element must not lose the rest of the batch.
			r.logger.Warn("skipping malformed batch element", "batch_id", batchID, "error", err)
			metrics.IncSkipped()
			continue
		}
		recs = append(recs, event.Record{
			Name:    extractName(obj, r.nameField, "unknown"),
			Payload: append(json.RawMessage(nil), el...),
			BatchID: batchID,
		})
	}

	stored := r.store.Append(recs...)
	metrics.IncBatch("ok")
	metrics.AddEvents(len(stored))
	metrics.SetStoreSize(r.store.Len())
	r.logger.Info("batch stored", "batch_id", batchID, "count", len(stored))

	if r.archive != nil {
		for _, rec := range stored {
			if err := r.archive.Send(ctx, rec); err != nil {
				r.logger.Warn("archive send failed", "batch_id", batchID, "error", err)
			}
		}
	}
	return BatchResult{Stored: len(stored), BatchID: batchID}, nil
}

func (r *Router) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (r *Router) handleQuery(c *gin.Context) {
	name := c.Query("name")
	sinceSeq := int64(0)
	if s := c.Query("since_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid since_seq"})
			return
		}
		sinceSeq = n
	}
	recs := r.store.Since(sinceSeq)
	if name != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.Name == name {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleReset(c *gin.Context) {
	r.store.Reset()
	metrics.SetStoreSize(0)
	r.logger.Info("event store reset")
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// Shutdown gracefully stops a server returned by NewServer.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

// splitBatch decodes body as either a single JSON value or an array of
// values, returning the raw elements. The body as a whole must be valid JSON.
func splitBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}
	var single json.RawMessage
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{single}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}
