package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docsync/internal/util"
	"docsync/pkg/domain"
	"docsync/pkg/events"
	"docsync/pkg/locker"
	"docsync/pkg/remote"
	"docsync/pkg/scheduler"
	"docsync/pkg/staging"
	"docsync/pkg/store"
	"docsync/pkg/worker"
)

const (
	defaultStagingMaxAgeDays = 7

	runLockName = "processing"
	runLockTTL  = 10 * time.Minute
)

// SyncObserver is an optional capability that records sync run outcomes.
type SyncObserver interface {
	ObserveSyncRun(report domain.SyncReport, err error)
}

// ArchiveRemover is an optional capability that drops the archived copy
// when a document is deleted.
type ArchiveRemover interface {
	RemoveDocument(ctx context.Context, doc domain.Document) error
}

// Config wires an App.
type Config struct {
	Store   store.DocumentStore
	Staging *staging.Manager
	Source  remote.Source
	Worker  *worker.Worker

	Locker         locker.RunLock
	Events         events.Publisher
	Observer       SyncObserver
	ArchiveRemover ArchiveRemover

	DownloadBatchSize int
	DownloadPause     time.Duration
	SchedulerInterval time.Duration
	StagingMaxAgeDays int
}

// App is the service facade. It owns the sync flow, the registry
// operations exposed over the admin API, and the batch scheduler.
type App struct {
	store      store.DocumentStore
	staging    *staging.Manager
	source     remote.Source
	downloader *remote.Downloader
	worker     *worker.Worker
	scheduler  *scheduler.Scheduler

	events         events.Publisher
	observer       SyncObserver
	archiveRemover ArchiveRemover

	stagingMaxAgeDays int
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Staging == nil {
		return nil, errors.New("app: staging manager is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("app: remote source is required")
	}
	if cfg.Worker == nil {
		return nil, errors.New("app: worker is required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	maxAgeDays := cfg.StagingMaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = defaultStagingMaxAgeDays
	}

	a := &App{
		store:   cfg.Store,
		staging: cfg.Staging,
		source:  cfg.Source,
		downloader: &remote.Downloader{
			Source:    cfg.Source,
			BatchSize: cfg.DownloadBatchSize,
			Pause:     cfg.DownloadPause,
		},
		worker:            cfg.Worker,
		events:            publisher,
		observer:          cfg.Observer,
		archiveRemover:    cfg.ArchiveRemover,
		stagingMaxAgeDays: maxAgeDays,
	}

	runner := &batchRunner{worker: cfg.Worker, locker: cfg.Locker}
	sched, err := scheduler.New(runner, cfg.SchedulerInterval)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.scheduler = sched
	return a, nil
}

// SyncUser discovers the user's remote documents, downloads them in
// batches, stages the payloads, and registers everything in one upsert.
// Per-file failures land in the report; only a listing or registry
// failure aborts the run.
func (a *App) SyncUser(ctx context.Context, userID, accessToken string) (domain.SyncReport, error) {
	logger := util.LoggerFromContext(ctx)
	started := time.Now().UTC()
	report := domain.SyncReport{UserID: userID, StartedAt: started}

	if strings.TrimSpace(userID) == "" {
		return report, errors.New("user id is required")
	}

	files, err := a.source.ListDocuments(ctx, accessToken)
	if err != nil {
		report.Duration = time.Since(started)
		a.observeSync(report, err)
		return report, fmt.Errorf("list remote documents: %w", err)
	}
	report.Discovered = len(files)

	results := a.downloader.DownloadAll(ctx, accessToken, files)
	items := make([]domain.DocumentUpsert, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			report.Errors = append(report.Errors, domain.SyncError{
				RemoteFileID: res.File.ID,
				FileName:     res.File.Name,
				Stage:        "download",
				Message:      res.Err.Error(),
			})
			continue
		}
		staged, err := a.staging.Save(userID, res.File.ID, res.File.Name, res.Data)
		if err != nil {
			report.Errors = append(report.Errors, domain.SyncError{
				RemoteFileID: res.File.ID,
				FileName:     res.File.Name,
				Stage:        "staging",
				Message:      err.Error(),
			})
			continue
		}
		report.Downloaded++
		downloadedAt := staged.DownloadedAt
		items = append(items, domain.DocumentUpsert{
			File:         res.File,
			LocalPath:    staged.Path,
			DownloadedAt: &downloadedAt,
		})
	}

	if len(items) > 0 {
		docs, err := a.store.UpsertMany(ctx, userID, items)
		if err != nil {
			report.Duration = time.Since(started)
			a.observeSync(report, err)
			return report, fmt.Errorf("register documents: %w", err)
		}
		report.Upserted = len(docs)
	}

	report.Duration = time.Since(started)
	logger.Info("sync_finished",
		"user_id", userID,
		"discovered", report.Discovered,
		"downloaded", report.Downloaded,
		"upserted", report.Upserted,
		"errors", len(report.Errors),
		"duration_ms", report.Duration.Milliseconds(),
	)
	a.events.SyncCompleted(ctx, report)
	a.observeSync(report, nil)
	return report, nil
}

// ListDocuments returns all of the user's documents, newest first.
func (a *App) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	return a.store.ListByUser(ctx, userID)
}

// ListUnprocessed returns the user's pending documents, oldest first.
func (a *App) ListUnprocessed(ctx context.Context, userID string, limit int) ([]domain.Document, error) {
	return a.store.ListPending(ctx, userID, limit)
}

// GetDocument looks up one document by id.
func (a *App) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	return a.store.Get(ctx, id)
}

// UserStats aggregates registry counts for the user.
func (a *App) UserStats(ctx context.Context, userID string) (domain.Stats, error) {
	return a.store.Stats(ctx, userID)
}

// SetDocumentStatus applies a manual status transition.
func (a *App) SetDocumentStatus(ctx context.Context, id int64, status domain.Status, reason string) (domain.Document, error) {
	return a.store.Transition(ctx, id, status, reason)
}

// DeleteDocument removes the registry row plus any staged and archived
// copies. The row is the source of truth; copy removal is best-effort.
func (a *App) DeleteDocument(ctx context.Context, id int64) error {
	logger := util.LoggerFromContext(ctx)
	doc, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.LocalFilePath != "" {
		if _, err := a.staging.Delete(doc.LocalFilePath); err != nil {
			logger.Warn("staged_file_delete_failed", "id", doc.ID, "path", doc.LocalFilePath, "error", err)
		}
	}
	if a.archiveRemover != nil {
		if err := a.archiveRemover.RemoveDocument(ctx, doc); err != nil {
			logger.Warn("archived_copy_delete_failed", "id", doc.ID, "error", err)
		}
	}
	return a.store.Delete(ctx, id)
}

// SchedulerStatus reports the batch scheduler state.
func (a *App) SchedulerStatus() domain.SchedulerStatus {
	return a.scheduler.Status()
}

// StartScheduler turns on periodic batch processing.
func (a *App) StartScheduler() {
	a.scheduler.Start()
}

// StopScheduler turns off periodic batch processing.
func (a *App) StopScheduler() {
	a.scheduler.Stop()
}

// TriggerProcessing runs one batch pass now, respecting the run guard.
func (a *App) TriggerProcessing(ctx context.Context) (domain.ProcessReport, error) {
	return a.scheduler.TriggerNow(ctx)
}

// CleanupStaging removes staged files older than maxAgeDays. A
// non-positive value falls back to the configured default.
func (a *App) CleanupStaging(maxAgeDays int) (domain.CleanupReport, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = a.stagingMaxAgeDays
	}
	return a.staging.CleanupOlderThan(maxAgeDays)
}

// StagingUsage reports the size of the staging tree.
func (a *App) StagingUsage() (domain.DiskUsage, error) {
	return a.staging.DiskUsage()
}

func (a *App) observeSync(report domain.SyncReport, err error) {
	if a.observer == nil {
		return
	}
	a.observer.ObserveSyncRun(report, err)
}

// batchRunner adapts the worker to the scheduler and serializes runs
// across instances through the shared run lock.
type batchRunner struct {
	worker *worker.Worker
	locker locker.RunLock
}

func (r *batchRunner) ProcessAllPending(ctx context.Context) (domain.ProcessReport, error) {
	logger := util.LoggerFromContext(ctx)
	if r.locker != nil {
		ok, err := r.locker.Acquire(runLockName, runLockTTL)
		if err != nil {
			// A broken lock backend must not halt processing. The
			// in-process guard still prevents overlapping local runs.
			logger.Warn("run_lock_unavailable", "error", err)
		} else if !ok {
			logger.Info("run_lock_held", "name", runLockName)
			return domain.ProcessReport{StartedAt: time.Now().UTC()}, nil
		} else {
			defer func() {
				if err := r.locker.Release(runLockName); err != nil {
					logger.Warn("run_lock_release_failed", "error", err)
				}
			}()
		}
	}
	return r.worker.ProcessAllPending(ctx)
}
