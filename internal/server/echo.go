package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Mount registers the collector endpoints on an existing echo instance so the
// ingestion API can be embedded into a harness that already runs echo.
// The routes mirror Handler exactly.
func (r *Router) Mount(e *echo.Echo) {
	g := e.Group(r.basePath)
	g.POST("/event", r.echoEvent)
	g.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	g.GET("/events", r.echoQuery)
	g.DELETE("/events", r.echoReset)
}

func (r *Router) echoEvent(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
	}
	resp, err := r.Ingest(c.Request().Context(), body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (r *Router) echoQuery(c echo.Context) error {
	name := c.QueryParam("name")
	sinceSeq := int64(0)
	if s := c.QueryParam("since_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResp{Error: "invalid since_seq"})
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
	return c.JSON(http.StatusOK, recs)
}

func (r *Router) echoReset(c echo.Context) error {
	r.store.Reset()
	r.logger.Info("event store reset")
	return c.JSON(http.StatusOK, okResp{OK: true})
}
