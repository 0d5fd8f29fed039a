package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/pipbot/internal/model/persona"
	"github.com/zhouzirui/pipbot/internal/service/history"
	"github.com/zhouzirui/pipbot/internal/service/relay"
)

func TestRouterRoutes(t *testing.T) {
	router := NewRouter(Deps{
		Personas:  persona.NewMemoryStore(persona.Seed()),
		Pipelines: relay.NewRegistry("pip"),
		Store:     history.NewMemoryStore(),
	})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/personas", http.StatusOK},
		{http.MethodGet, "/api/scopes", http.StatusOK},
		{http.MethodPost, "/api/events?persona=pip", http.StatusNotFound},
		{http.MethodGet, "/api/ws", http.StatusNotFound},
		{http.MethodOptions, "/api/personas", http.StatusNoContent},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}

func TestHealthzReportsBusyWorkers(t *testing.T) {
	dispatcher, err := relay.NewDispatcher(relay.DispatcherOptions{Workers: 2})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer dispatcher.Close(time.Second)

	router := NewRouter(Deps{
		Personas:   persona.NewMemoryStore(persona.Seed()),
		Pipelines:  relay.NewRegistry("pip"),
		Dispatcher: dispatcher,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := body["busyWorkers"].(float64); !ok || got != 0 {
		t.Fatalf("expected busyWorkers 0, got %v", body["busyWorkers"])
	}
}
