package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docsync/pkg/domain"
)

const migrateLockID int64 = 84218421

// Columns refreshed by an upsert. Processing state (status, processed,
// processing_error, result) is never touched here.
var upsertColumns = []string{
	"file_name",
	"mime_type",
	"size_bytes",
	"remote_view_link",
	"remote_modified_at",
	"local_file_path",
	"downloaded_at",
	"updated_at",
}

// GormStore implements DocumentStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore runs auto-migrations on an already opened DB.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertMany inserts or refreshes one row per item in a single transaction.
func (s *GormStore) UpsertMany(ctx context.Context, userID string, items []domain.DocumentUpsert) ([]domain.Document, error) {
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

	now := time.Now().UTC()
	models := make([]DocumentModel, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		models = append(models, upsertToModel(userID, item, now))
		ids = append(ids, item.File.ID)
	}

	byRemoteID := make(map[string]DocumentModel, len(items))
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "remote_file_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&models).Error; err != nil {
			return err
		}
		var rows []DocumentModel
		if err := tx.Where("user_id = ? AND remote_file_id IN ?", userID, ids).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			byRemoteID[row.RemoteFileID] = row
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: upsert documents: %w", domain.ErrRegistry, err)
	}

	docs := make([]domain.Document, 0, len(items))
	for _, item := range items {
		row, ok := byRemoteID[item.File.ID]
		if !ok {
			return nil, fmt.Errorf("%w: upserted row for %s not found", domain.ErrRegistry, item.File.ID)
		}
		docs = append(docs, documentFromModel(row))
	}
	return docs, nil
}

// Get returns one document by id.
func (s *GormStore) Get(ctx context.Context, id int64) (domain.Document, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("%w: get document %d: %w", domain.ErrRegistry, id, err)
	}
	return documentFromModel(model), nil
}

// ListByUser returns all documents of a user, newest first.
func (s *GormStore) ListByUser(ctx context.Context, userID string) ([]domain.Document, error) {
	return s.listDocuments(ctx, "created_at DESC, id DESC", 0, "user_id = ?", userID)
}

// ListPending returns pending documents of a user, oldest first.
func (s *GormStore) ListPending(ctx context.Context, userID string, limit int) ([]domain.Document, error) {
	return s.listDocuments(ctx, "created_at ASC, id ASC", limit, "user_id = ? AND status = ?", userID, string(domain.StatusPending))
}

// ListPendingAllUsers returns pending documents across all users, oldest first.
func (s *GormStore) ListPendingAllUsers(ctx context.Context, limit int) ([]domain.Document, error) {
	return s.listDocuments(ctx, "created_at ASC, id ASC", limit, "status = ?", string(domain.StatusPending))
}

func (s *GormStore) listDocuments(ctx context.Context, order string, limit int, conds ...any) ([]domain.Document, error) {
	var models []DocumentModel
	tx := s.db.WithContext(ctx).Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", domain.ErrRegistry, err)
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// Transition moves a document to the given status.
func (s *GormStore) Transition(ctx context.Context, id int64, status domain.Status, reason string) (domain.Document, error) {
	return s.transition(ctx, id, status, reason, nil, false)
}

// MarkCompleted moves a document to completed and stores the result payload.
func (s *GormStore) MarkCompleted(ctx context.Context, id int64, result json.RawMessage) (domain.Document, error) {
	return s.transition(ctx, id, domain.StatusCompleted, "", result, true)
}

func (s *GormStore) transition(ctx context.Context, id int64, status domain.Status, reason string, result json.RawMessage, withResult bool) (domain.Document, error) {
	if status == domain.StatusFailed && strings.TrimSpace(reason) == "" {
		return domain.Document{}, domain.ErrFailureReasonRequired
	}

	var model DocumentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		updates := map[string]any{
			"status":     string(status),
			"processed":  status == domain.StatusCompleted,
			"updated_at": now,
		}
		switch status {
		case domain.StatusFailed:
			updates["processing_error"] = strings.TrimSpace(reason)
		case domain.StatusCompleted:
			// The staged copy is deleted after completion; forget it.
			updates["processing_error"] = ""
			updates["local_file_path"] = ""
			updates["downloaded_at"] = nil
		}
		if withResult {
			updates["result"] = datatypes.JSON(result)
		}
		if err := tx.Model(&DocumentModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		model.Status = string(status)
		model.Processed = status == domain.StatusCompleted
		model.UpdatedAt = now
		switch status {
		case domain.StatusFailed:
			model.ProcessingError = strings.TrimSpace(reason)
		case domain.StatusCompleted:
			model.ProcessingError = ""
			model.LocalFilePath = ""
			model.DownloadedAt = nil
		}
		if withResult {
			model.Result = datatypes.JSON(result)
		}
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("%w: transition document %d: %w", domain.ErrRegistry, id, err)
	}
	return documentFromModel(model), nil
}

// Stats aggregates per-status and per-MIME-type counts for one user.
func (s *GormStore) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	var statusRows []struct {
		Key   string
		Count int
	}
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("status AS key, count(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return domain.Stats{}, fmt.Errorf("%w: status counts: %w", domain.ErrRegistry, err)
	}
	var mimeRows []struct {
		Key   string
		Count int
	}
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("mime_type AS key, count(*) AS count").
		Where("user_id = ?", userID).
		Group("mime_type").
		Scan(&mimeRows).Error; err != nil {
		return domain.Stats{}, fmt.Errorf("%w: mime type counts: %w", domain.ErrRegistry, err)
	}

	stats := domain.Stats{ByMimeType: make(map[string]int, len(mimeRows))}
	for _, row := range statusRows {
		stats.Total += row.Count
		switch domain.Status(row.Key) {
		case domain.StatusPending:
			stats.Pending = row.Count
		case domain.StatusProcessing:
			stats.Processing = row.Count
		case domain.StatusCompleted:
			stats.Completed = row.Count
		case domain.StatusFailed:
			stats.Failed = row.Count
		}
	}
	stats.Unprocessed = stats.Total - stats.Completed
	for _, row := range mimeRows {
		stats.ByMimeType[row.Key] = row.Count
	}
	return stats, nil
}

// Delete removes one registry row.
func (s *GormStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&DocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: delete document %d: %w", domain.ErrRegistry, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func upsertToModel(userID string, item domain.DocumentUpsert, now time.Time) DocumentModel {
	return DocumentModel{
		UserID:           userID,
		RemoteFileID:     item.File.ID,
		FileName:         item.File.Name,
		MimeType:         item.File.MimeType,
		SizeBytes:        item.File.SizeBytes,
		RemoteViewLink:   item.File.ViewLink,
		RemoteModifiedAt: item.File.ModifiedAt,
		LocalFilePath:    item.LocalPath,
		DownloadedAt:     item.DownloadedAt,
		Status:           string(domain.StatusPending),
		Processed:        false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		UserID:           m.UserID,
		RemoteFileID:     m.RemoteFileID,
		FileName:         m.FileName,
		MimeType:         m.MimeType,
		SizeBytes:        m.SizeBytes,
		RemoteViewLink:   m.RemoteViewLink,
		RemoteModifiedAt: m.RemoteModifiedAt,
		LocalFilePath:    m.LocalFilePath,
		DownloadedAt:     m.DownloadedAt,
		Status:           domain.Status(m.Status),
		Processed:        m.Processed,
		ProcessingError:  m.ProcessingError,
		Result:           json.RawMessage(m.Result),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
