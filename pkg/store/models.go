package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM model used for persistence.
type DocumentModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	UserID           string `gorm:"not null;index;uniqueIndex:idx_documents_user_remote"`
	RemoteFileID     string `gorm:"not null;uniqueIndex:idx_documents_user_remote"`
	FileName         string `gorm:"not null"`
	MimeType         string `gorm:"not null;index"`
	SizeBytes        int64
	RemoteViewLink   string
	RemoteModifiedAt *time.Time
	LocalFilePath    string
	DownloadedAt     *time.Time
	Status           string `gorm:"not null;index"`
	Processed        bool   `gorm:"not null"`
	ProcessingError  string
	Result           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}
