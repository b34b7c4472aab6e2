package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"docsync/pkg/domain"
)

type docKey struct {
	userID       string
	remoteFileID string
}

// MemoryStore is an in-memory DocumentStore for tests and single-process
// runs without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]domain.Document
	byKey  map[docKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[int64]domain.Document),
		byKey: make(map[docKey]int64),
	}
}

func (s *MemoryStore) UpsertMany(_ context.Context, userID string, items []domain.DocumentUpsert) ([]domain.Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrRegistry)
	}
	if len(items) == 0 {
		return []domain.Document{}, nil
	}
	for i, item := range items {
		if strings.TrimSpace(item.File.ID) == "" {
			return nil, fmt.Errorf("%w: item %d has no remote file id", domain.ErrRegistry, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	docs := make([]domain.Document, 0, len(items))
	for _, item := range items {
		key := docKey{userID: userID, remoteFileID: item.File.ID}
		id, exists := s.byKey[key]
		if !exists {
			s.nextID++
			id = s.nextID
			s.byKey[key] = id
			s.docs[id] = domain.Document{
				ID:           id,
				UserID:       userID,
				RemoteFileID: item.File.ID,
				Status:       domain.StatusPending,
				CreatedAt:    now,
			}
		}
		doc := s.docs[id]
		doc.FileName = item.File.Name
		doc.MimeType = item.File.MimeType
		doc.SizeBytes = item.File.SizeBytes
		doc.RemoteViewLink = item.File.ViewLink
		doc.RemoteModifiedAt = item.File.ModifiedAt
		doc.LocalFilePath = item.LocalPath
		doc.DownloadedAt = item.DownloadedAt
		doc.UpdatedAt = now
		s.docs[id] = doc
		docs = append(docs, cloneDocument(doc))
	}
	return docs, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collect(func(d domain.Document) bool { return d.UserID == userID })
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})
	return docs, nil
}

func (s *MemoryStore) ListPending(_ context.Context, userID string, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collect(func(d domain.Document) bool {
		return d.UserID == userID && d.Status == domain.StatusPending
	})
	return sortOldestFirst(docs, limit), nil
}

func (s *MemoryStore) ListPendingAllUsers(_ context.Context, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collect(func(d domain.Document) bool { return d.Status == domain.StatusPending })
	return sortOldestFirst(docs, limit), nil
}

func (s *MemoryStore) Transition(_ context.Context, id int64, status domain.Status, reason string) (domain.Document, error) {
	return s.transition(id, status, reason, nil, false)
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id int64, result json.RawMessage) (domain.Document, error) {
	return s.transition(id, domain.StatusCompleted, "", result, true)
}

func (s *MemoryStore) transition(id int64, status domain.Status, reason string, result json.RawMessage, withResult bool) (domain.Document, error) {
	if status == domain.StatusFailed && strings.TrimSpace(reason) == "" {
		return domain.Document{}, domain.ErrFailureReasonRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	doc.Status = status
	doc.Processed = status == domain.StatusCompleted
	doc.UpdatedAt = time.Now().UTC()
	switch status {
	case domain.StatusFailed:
		doc.ProcessingError = strings.TrimSpace(reason)
	case domain.StatusCompleted:
		doc.ProcessingError = ""
		doc.LocalFilePath = ""
		doc.DownloadedAt = nil
	}
	if withResult {
		doc.Result = append(json.RawMessage(nil), result...)
	}
	s.docs[id] = doc
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Stats(_ context.Context, userID string) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.Stats{ByMimeType: make(map[string]int)}
	for _, doc := range s.docs {
		if doc.UserID != userID {
			continue
		}
		stats.Total++
		switch doc.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		}
		stats.ByMimeType[doc.MimeType]++
	}
	stats.Unprocessed = stats.Total - stats.Completed
	return stats, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	delete(s.docs, id)
	delete(s.byKey, docKey{userID: doc.UserID, remoteFileID: doc.RemoteFileID})
	return nil
}

// collect is called with the mutex held.
func (s *MemoryStore) collect(keep func(domain.Document) bool) []domain.Document {
	docs := make([]domain.Document, 0)
	for _, doc := range s.docs {
		if keep(doc) {
			docs = append(docs, cloneDocument(doc))
		}
	}
	return docs
}

func sortOldestFirst(docs []domain.Document, limit int) []domain.Document {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

func cloneDocument(doc domain.Document) domain.Document {
	out := doc
	if doc.RemoteModifiedAt != nil {
		t := *doc.RemoteModifiedAt
		out.RemoteModifiedAt = &t
	}
	if doc.DownloadedAt != nil {
		t := *doc.DownloadedAt
		out.DownloadedAt = &t
	}
	if doc.Result != nil {
		out.Result = append(json.RawMessage(nil), doc.Result...)
	}
	return out
}
