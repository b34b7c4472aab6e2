package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(raw), true
	default:
		return "", false
	}
}

// Document is one tracked remote file for one user.
type Document struct {
	ID               int64           `json:"id"`
	UserID           string          `json:"userId"`
	RemoteFileID     string          `json:"remoteFileId"`
	FileName         string          `json:"fileName"`
	MimeType         string          `json:"mimeType"`
	SizeBytes        int64           `json:"sizeBytes,omitempty"`
	RemoteViewLink   string          `json:"remoteViewLink,omitempty"`
	RemoteModifiedAt *time.Time      `json:"remoteModifiedAt,omitempty"`
	LocalFilePath    string          `json:"localFilePath,omitempty"`
	DownloadedAt     *time.Time      `json:"downloadedAt,omitempty"`
	Status           Status          `json:"processingStatus"`
	Processed        bool            `json:"processed"`
	ProcessingError  string          `json:"processingError,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// RemoteFile is a file as reported by the remote storage account.
type RemoteFile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MimeType   string     `json:"mimeType"`
	SizeBytes  int64      `json:"sizeBytes,omitempty"`
	ViewLink   string     `json:"viewLink,omitempty"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`
}

// DownloadResult is the per-file outcome of a batched download.
type DownloadResult struct {
	File RemoteFile
	Data []byte
	Err  error
}

// StagedFile describes a staged copy on local disk.
type StagedFile struct {
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"sizeBytes"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// DocumentUpsert carries one remote file plus its resolved staging info
// into a registry batch upsert.
type DocumentUpsert struct {
	File         RemoteFile
	LocalPath    string
	DownloadedAt *time.Time
}

// SyncError records one per-file failure inside a sync run.
type SyncError struct {
	RemoteFileID string `json:"remoteFileId"`
	FileName     string `json:"fileName"`
	Stage        string `json:"stage"`
	Message      string `json:"message"`
}

// SyncReport summarises one discovery+download+upsert run for a user.
type SyncReport struct {
	UserID     string        `json:"userId"`
	Discovered int           `json:"discovered"`
	Downloaded int           `json:"downloaded"`
	Upserted   int           `json:"upserted"`
	Errors     []SyncError   `json:"errors,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

// ProcessReport summarises one batch-driver pass over pending documents.
type ProcessReport struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Stats aggregates registry counts for one user.
type Stats struct {
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	Processing  int            `json:"processing"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Unprocessed int            `json:"unprocessed"`
	ByMimeType  map[string]int `json:"countsByMimeType"`
}

// SchedulerStatus reports the scheduler state object.
type SchedulerStatus struct {
	IsRunning  bool           `json:"isRunning"`
	Pattern    string         `json:"pattern"`
	NextRun    *time.Time     `json:"nextRunEstimate,omitempty"`
	LastRunAt  *time.Time     `json:"lastRunAt,omitempty"`
	LastReport *ProcessReport `json:"lastReport,omitempty"`
}

// CleanupReport summarises one staging cleanup sweep.
type CleanupReport struct {
	RemovedFiles int   `json:"removedFiles"`
	RemovedDirs  int   `json:"removedDirs"`
	FreedBytes   int64 `json:"freedBytes"`
}

// DiskUsage reports the size of the staging tree.
type DiskUsage struct {
	TotalBytes int64 `json:"totalBytes"`
	FileCount  int   `json:"fileCount"`
}
