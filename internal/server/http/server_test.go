package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/syncer"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func testServer(db Pinger) *Server {
	logger := log.NewLogger(log.WithLevel(log.FatalLevel))
	engine := syncer.New(config.Default(), nil, nil, nil, nil, nil, logger)
	return New(engine, db)
}

func TestHealthzReportsOK(t *testing.T) {
	s := testServer(stubPinger{})
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealthzFailsWhenStorageUnreachable(t *testing.T) {
	s := testServer(stubPinger{err: errors.New("pool closed")})
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatuszExposesPhaseAndLastCycle(t *testing.T) {
	s := testServer(stubPinger{})
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Phase string `json:"phase"`
		Last  struct {
			Selected int `json:"selected"`
		} `json:"last_cycle"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Phase != "IDLE" {
		t.Fatalf("phase = %q, want IDLE before the first cycle", body.Phase)
	}
}
