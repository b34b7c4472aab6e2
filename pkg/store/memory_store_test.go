package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"docsync/pkg/domain"
)

func upsertItem(remoteID, name, mime string) domain.DocumentUpsert {
	now := time.Now().UTC()
	return domain.DocumentUpsert{
		File: domain.RemoteFile{
			ID:       remoteID,
			Name:     name,
			MimeType: mime,
		},
		LocalPath:    "/staging/user-1/" + remoteID + "_" + name,
		DownloadedAt: &now,
	}
}

func TestUpsertManyCreatesPendingRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
		upsertItem("remote-b", "b.txt", "text/plain"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].RemoteFileID != "remote-a" || docs[1].RemoteFileID != "remote-b" {
		t.Fatalf("input order not preserved: %s, %s", docs[0].RemoteFileID, docs[1].RemoteFileID)
	}
	for _, doc := range docs {
		if doc.ID == 0 {
			t.Fatalf("expected assigned id for %s", doc.RemoteFileID)
		}
		if doc.Status != domain.StatusPending {
			t.Fatalf("expected pending, got %s", doc.Status)
		}
		if doc.Processed {
			t.Fatalf("new document must not be processed")
		}
		if doc.LocalFilePath == "" || doc.DownloadedAt == nil {
			t.Fatalf("staging info missing on %s", doc.RemoteFileID)
		}
	}
}

func TestUpsertManyRefreshesWithoutTouchingState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	id := docs[0].ID
	created := docs[0].CreatedAt

	if _, err := s.Transition(ctx, id, domain.StatusFailed, "backend exploded"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	docs, err = s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a-renamed.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	doc := docs[0]
	if doc.ID != id {
		t.Fatalf("expected same row %d, got %d", id, doc.ID)
	}
	if doc.FileName != "a-renamed.pdf" {
		t.Fatalf("file name not refreshed: %s", doc.FileName)
	}
	if doc.Status != domain.StatusFailed {
		t.Fatalf("status must survive upsert, got %s", doc.Status)
	}
	if doc.ProcessingError != "backend exploded" {
		t.Fatalf("failure reason must survive upsert, got %q", doc.ProcessingError)
	}
	if !doc.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed on upsert")
	}
}

func TestUpsertManyRejectsMissingRemoteID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
		upsertItem("", "b.txt", "text/plain"),
	})
	if !errors.Is(err, domain.ErrRegistry) {
		t.Fatalf("expected registry error, got %v", err)
	}
	docs, err := s.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("partial upsert applied: %d rows", len(docs))
	}
}

func TestListPendingOldestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, remoteID := range []string{"remote-1", "remote-2", "remote-3"} {
		if _, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
			upsertItem(remoteID, remoteID+".pdf", "application/pdf"),
		}); err != nil {
			t.Fatalf("upsert %s: %v", remoteID, err)
		}
	}
	docs, err := s.ListPending(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(docs))
	}
	for i, want := range []string{"remote-1", "remote-2", "remote-3"} {
		if docs[i].RemoteFileID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, docs[i].RemoteFileID)
		}
	}

	if _, err := s.Transition(ctx, docs[0].ID, domain.StatusProcessing, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	docs, err = s.ListPending(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("list pending with limit: %v", err)
	}
	if len(docs) != 1 || docs[0].RemoteFileID != "remote-2" {
		t.Fatalf("expected oldest remaining pending, got %+v", docs)
	}
}

func TestListPendingAllUsersSpansOwners(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	}); err != nil {
		t.Fatalf("upsert user-1: %v", err)
	}
	if _, err := s.UpsertMany(ctx, "user-2", []domain.DocumentUpsert{
		upsertItem("remote-b", "b.pdf", "application/pdf"),
	}); err != nil {
		t.Fatalf("upsert user-2: %v", err)
	}
	docs, err := s.ListPendingAllUsers(ctx, 0)
	if err != nil {
		t.Fatalf("list pending all users: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 pending across users, got %d", len(docs))
	}
}

func TestTransitionFailedRequiresReason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.Transition(ctx, docs[0].ID, domain.StatusFailed, "  "); !errors.Is(err, domain.ErrFailureReasonRequired) {
		t.Fatalf("expected failure reason error, got %v", err)
	}
}

func TestTransitionUnknownDocument(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Transition(context.Background(), 4242, domain.StatusProcessing, ""); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionResetToPendingKeepsFailureReason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id := docs[0].ID
	if _, err := s.Transition(ctx, id, domain.StatusFailed, "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	doc, err := s.Transition(ctx, id, domain.StatusPending, "")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if doc.Status != domain.StatusPending || doc.Processed {
		t.Fatalf("expected unprocessed pending, got %s processed=%v", doc.Status, doc.Processed)
	}
	if doc.ProcessingError != "timeout" {
		t.Fatalf("failure reason must survive reset, got %q", doc.ProcessingError)
	}
}

func TestMarkCompletedClearsStagingAndError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id := docs[0].ID
	if _, err := s.Transition(ctx, id, domain.StatusFailed, "first try"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	result := json.RawMessage(`{"text":"hello"}`)
	doc, err := s.MarkCompleted(ctx, id, result)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if doc.Status != domain.StatusCompleted || !doc.Processed {
		t.Fatalf("expected processed completed, got %s processed=%v", doc.Status, doc.Processed)
	}
	if doc.ProcessingError != "" {
		t.Fatalf("error not cleared: %q", doc.ProcessingError)
	}
	if doc.LocalFilePath != "" || doc.DownloadedAt != nil {
		t.Fatalf("staging columns not cleared: %q %v", doc.LocalFilePath, doc.DownloadedAt)
	}
	if string(doc.Result) != `{"text":"hello"}` {
		t.Fatalf("result not stored: %s", doc.Result)
	}
}

func TestStatsCountsByStatusAndMime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
		upsertItem("remote-b", "b.pdf", "application/pdf"),
		upsertItem("remote-c", "c.txt", "text/plain"),
		upsertItem("remote-d", "d.txt", "text/plain"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.MarkCompleted(ctx, docs[0].ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Transition(ctx, docs[1].ID, domain.StatusFailed, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := s.Transition(ctx, docs[2].ID, domain.StatusProcessing, ""); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if _, err := s.UpsertMany(ctx, "user-2", []domain.DocumentUpsert{
		upsertItem("remote-z", "z.pdf", "application/pdf"),
	}); err != nil {
		t.Fatalf("upsert other user: %v", err)
	}

	stats, err := s.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Processing != 1 || stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected status counts: %+v", stats)
	}
	if stats.Unprocessed != 3 {
		t.Fatalf("expected 3 unprocessed, got %d", stats.Unprocessed)
	}
	if stats.ByMimeType["application/pdf"] != 2 || stats.ByMimeType["text/plain"] != 2 {
		t.Fatalf("unexpected mime counts: %+v", stats.ByMimeType)
	}
}

func TestDeleteFreesUpsertKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Delete(ctx, docs[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, docs[0].ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	again, err := s.UpsertMany(ctx, "user-1", []domain.DocumentUpsert{
		upsertItem("remote-a", "a.pdf", "application/pdf"),
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if again[0].ID == docs[0].ID {
		t.Fatalf("expected a fresh row after delete")
	}
}
