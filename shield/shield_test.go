package shield

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newRouter(logger *slog.Logger, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	for _, mw := range Stack(logger) {
		r.Use(mw)
	}
	r.Post("/", h)
	r.Get("/", h)
	return r
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var inner *slog.Logger
	h := newRouter(logger, func(w http.ResponseWriter, r *http.Request) {
		inner = Logger(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	id := rec.Header().Get("X-Request-ID")
	if len(id) != 8 {
		t.Fatalf("request id: %q", id)
	}
	if inner == nil || inner == logger {
		t.Fatal("handler did not get a request logger")
	}
	logs := buf.String()
	if !strings.Contains(logs, "request_id="+id) || !strings.Contains(logs, "status=418") {
		t.Errorf("logs: %s", logs)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing Cache-Control")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	h := newRouter(nil, func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("got %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	h := newRouter(nil, func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		}
	})
	body := strings.Repeat("x", MaxBodyBytes+1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: got %d", rec.Code)
	}
}

func TestLogger_Fallback(t *testing.T) {
	fb := slog.Default().With("x", 1)
	if Logger(httptest.NewRequest(http.MethodGet, "/", nil).Context(), fb) != fb {
		t.Error("fallback not returned")
	}
}
