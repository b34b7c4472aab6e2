package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestMiddlewareCountsNormalizedRequests(t *testing.T) {
	m := New("docsync")
	handler := m.Middleware("docsync", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, path := range []string{"/users/u-1/documents", "/users/u-2/documents"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	want := `docsync_http_requests_total{method="GET",path="/users/{user_id}/documents",service="docsync",status="202"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("scrape output missing %q:\n%s", want, body)
	}
	if strings.Contains(body, "u-1") || strings.Contains(body, "u-2") {
		t.Fatalf("scrape output leaked raw user ids:\n%s", body)
	}
}

func TestObserveDocumentProcessed(t *testing.T) {
	m := New("docsync")
	m.ObserveDocumentProcessed("extract", "completed", 120*time.Millisecond)
	m.ObserveDocumentProcessed("extract", "failed", 40*time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`docsync_worker_documents_total{outcome="completed",provider="extract"} 1`,
		`docsync_worker_documents_total{outcome="failed",provider="extract"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/users/u-42/sync", "/users/{user_id}/sync"},
		{"/users/u-42/stats", "/users/{user_id}/stats"},
		{"/documents/17/status", "/documents/{document_id}/status"},
		{"/documents/17", "/documents/{document_id}"},
		{"/scheduler/status", "/scheduler/status"},
		{"/healthz", "/healthz"},
		{"/users", "/users"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
