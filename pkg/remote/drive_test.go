package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docsync/pkg/domain"
)

func newFakeDrive(t *testing.T, handler http.Handler) *DriveSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDriveSource(
		WithEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
		WithPageSize(2),
	)
}

func TestListDocumentsPaginatesAndFilters(t *testing.T) {
	var queries []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		queries = append(queries, r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "page-2",
				"files": []map[string]any{
					{
						"id":           "file-1",
						"name":         "report.pdf",
						"mimeType":     "application/pdf",
						"size":         "2048",
						"webViewLink":  "https://drive.example/file-1",
						"modifiedTime": "2026-08-01T10:00:00Z",
					},
					{
						"id":       "file-x",
						"name":     "photo.png",
						"mimeType": "image/png",
					},
				},
			})
		case "page-2":
			json.NewEncoder(w).Encode(map[string]any{
				"files": []map[string]any{
					{
						"id":       "file-2",
						"name":     "notes.txt",
						"mimeType": "text/plain",
					},
				},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})
	src := newFakeDrive(t, handler)

	files, err := src.ListDocuments(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 allow-listed files, got %d", len(files))
	}
	if files[0].ID != "file-1" || files[1].ID != "file-2" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if files[0].SizeBytes != 2048 {
		t.Fatalf("size not parsed: %d", files[0].SizeBytes)
	}
	if files[0].ModifiedAt == nil || files[0].ModifiedAt.Format("2006-01-02") != "2026-08-01" {
		t.Fatalf("modified time not parsed: %v", files[0].ModifiedAt)
	}

	if len(queries) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(queries))
	}
	for _, q := range queries {
		if !strings.Contains(q, "trashed = false") {
			t.Fatalf("query lacks trashed filter: %q", q)
		}
		if !strings.Contains(q, "mimeType = 'application/pdf'") || !strings.Contains(q, "mimeType = 'text/markdown'") {
			t.Fatalf("query lacks mime filter: %q", q)
		}
	}
}

func TestListDocumentsMapsAuthError(t *testing.T) {
	src := newFakeDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	if _, err := src.ListDocuments(context.Background(), "expired"); !errors.Is(err, domain.ErrRemoteAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestDownloadReturnsBytes(t *testing.T) {
	src := newFakeDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file-1" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("expected alt=media, got %q", r.URL.Query().Get("alt"))
		}
		w.Write([]byte("pdf bytes"))
	}))

	data, err := src.Download(context.Background(), "token-1", "file-1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestDownloadErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrRemoteAuth},
		{http.StatusForbidden, domain.ErrRemoteAuth},
		{http.StatusNotFound, domain.ErrRemoteNotFound},
		{http.StatusTooManyRequests, domain.ErrRemoteTransient},
		{http.StatusInternalServerError, domain.ErrRemoteTransient},
		{http.StatusBadGateway, domain.ErrRemoteTransient},
	}
	for _, tc := range cases {
		src := newFakeDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := src.Download(context.Background(), "token-1", "file-1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestDownloadEmptyFileID(t *testing.T) {
	src := NewDriveSource()
	if _, err := src.Download(context.Background(), "token-1", ""); !errors.Is(err, domain.ErrRemoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceRejectsEmptyToken(t *testing.T) {
	src := NewDriveSource()
	if _, err := src.ListDocuments(context.Background(), "   "); !errors.Is(err, domain.ErrRemoteAuth) {
		t.Fatalf("expected auth error for empty token, got %v", err)
	}
}
