package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mirrortap/mirrortap/internal/event"
)

func TestMountOnEcho(t *testing.T) {
	r := NewRouter(event.NewStore(), "/collector")
	e := echo.New()
	r.Mount(e)
	ts := httptest.NewServer(e)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/collector/event", `[{"name":"a"},{"name":"b"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post returned %d", resp.StatusCode)
	}
	br := decodeBatchResult(t, resp)
	if br.Stored != 2 {
		t.Fatalf("expected stored=2, got %d", br.Stored)
	}

	qr, err := http.Get(ts.URL + "/collector/events?name=a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = qr.Body.Close() }()
	var recs []event.Record
	if err := json.NewDecoder(qr.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "a" {
		t.Fatalf("unexpected query result: %+v", recs)
	}

	sr, err := http.Get(ts.URL + "/collector/events?since_seq=1")
	if err != nil {
		t.Fatalf("since_seq query: %v", err)
	}
	defer func() { _ = sr.Body.Close() }()
	var tail []event.Record
	if err := json.NewDecoder(sr.Body).Decode(&tail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tail) != 1 || tail[0].Name != "b" {
		t.Fatalf("unexpected since_seq result: %+v", tail)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/collector/events", nil)
	dr, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	_ = dr.Body.Close()
	if r.Store().Len() != 0 {
		t.Fatalf("store not reset via echo route")
	}
}

func TestMountRejectsMalformedBody(t *testing.T) {
	r := NewRouter(event.NewStore(), "")
	e := echo.New()
	r.Mount(e)
	ts := httptest.NewServer(e)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/event", `[{"name":`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if r.Store().Len() != 0 {
		t.Fatalf("malformed body mutated the store")
	}
}
