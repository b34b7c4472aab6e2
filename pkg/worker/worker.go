package worker

import (
	"context"
	"fmt"
	"time"

	"docsync/internal/util"
	"docsync/pkg/domain"
	"docsync/pkg/processor"
	"docsync/pkg/staging"
	"docsync/pkg/store"
)

const (
	defaultPageLimit = 50
	defaultDelay     = time.Second
)

// Recorder is an optional capability that observes processing outcomes.
type Recorder interface {
	ObserveDocumentProcessed(provider, outcome string, duration time.Duration)
}

// Notifier is an optional capability that publishes document lifecycle
// events. Implementations must not block for long and must not fail the
// pipeline.
type Notifier interface {
	DocumentCompleted(ctx context.Context, doc domain.Document)
	DocumentFailed(ctx context.Context, doc domain.Document, reason string)
}

// Archiver is an optional capability that keeps a long-term copy of the
// staged bytes of completed documents.
type Archiver interface {
	ArchiveDocument(ctx context.Context, doc domain.Document, data []byte) error
}

// Config wires a Worker.
type Config struct {
	Store     store.DocumentStore
	Staging   *staging.Manager
	Processor processor.Processor

	Recorder Recorder
	Notifier Notifier
	Archiver Archiver

	// PageLimit bounds how many pending documents one batch run picks up.
	PageLimit int
	// Delay is the pause between two documents of a batch run.
	Delay time.Duration
}

// Worker drives staged documents through the processing backend one at
// a time.
type Worker struct {
	store     store.DocumentStore
	staging   *staging.Manager
	processor processor.Processor
	recorder  Recorder
	notifier  Notifier
	archiver  Archiver
	pageLimit int
	delay     time.Duration
}

func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: store is required")
	}
	if cfg.Staging == nil {
		return nil, fmt.Errorf("worker: staging manager is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("worker: processor is required")
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	return &Worker{
		store:     cfg.Store,
		staging:   cfg.Staging,
		processor: cfg.Processor,
		recorder:  cfg.Recorder,
		notifier:  cfg.Notifier,
		archiver:  cfg.Archiver,
		pageLimit: pageLimit,
		delay:     delay,
	}, nil
}

// ProcessDocument runs one document through the pipeline. The outcome
// lands in the registry; a non-nil error means the registry itself was
// unreachable and nothing could be recorded.
func (w *Worker) ProcessDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	logger := util.LoggerFromContext(ctx)
	started := time.Now()

	current, err := w.store.Transition(ctx, doc.ID, domain.StatusProcessing, "")
	if err != nil {
		return domain.Document{}, fmt.Errorf("start processing %d: %w", doc.ID, err)
	}
	logger.Info("document_processing", "id", current.ID, "user_id", current.UserID, "file", current.FileName)

	if current.LocalFilePath == "" || !w.staging.Exists(current.LocalFilePath) {
		reason := fmt.Sprintf("staged file missing: %q", current.LocalFilePath)
		return w.fail(ctx, current, reason, started)
	}
	data, err := w.staging.Read(current.LocalFilePath)
	if err != nil {
		return w.fail(ctx, current, fmt.Sprintf("read staged file: %v", err), started)
	}

	result, err := w.processor.Submit(ctx, data, current.FileName, current.UserID)
	if err != nil {
		return w.fail(ctx, current, err.Error(), started)
	}

	if w.archiver != nil {
		if err := w.archiver.ArchiveDocument(ctx, current, data); err != nil {
			logger.Warn("document_archive_failed", "id", current.ID, "error", err)
		}
	}
	completed, err := w.store.MarkCompleted(ctx, current.ID, result)
	if err != nil {
		return domain.Document{}, fmt.Errorf("mark completed %d: %w", current.ID, err)
	}
	if removed, err := w.staging.Delete(current.LocalFilePath); err != nil {
		logger.Warn("staged_file_delete_failed", "id", current.ID, "path", current.LocalFilePath, "error", err)
	} else if !removed {
		logger.Warn("staged_file_already_gone", "id", current.ID, "path", current.LocalFilePath)
	}

	w.observe(domain.StatusCompleted, started)
	if w.notifier != nil {
		w.notifier.DocumentCompleted(ctx, completed)
	}
	logger.Info("document_completed", "id", completed.ID, "user_id", completed.UserID, "duration_ms", time.Since(started).Milliseconds())
	return completed, nil
}

// fail records a processing failure. The staged file stays on disk for
// inspection and manual retries.
func (w *Worker) fail(ctx context.Context, doc domain.Document, reason string, started time.Time) (domain.Document, error) {
	logger := util.LoggerFromContext(ctx)
	failed, err := w.store.Transition(ctx, doc.ID, domain.StatusFailed, reason)
	if err != nil {
		return domain.Document{}, fmt.Errorf("record failure of %d: %w", doc.ID, err)
	}
	w.observe(domain.StatusFailed, started)
	if w.notifier != nil {
		w.notifier.DocumentFailed(ctx, failed, reason)
	}
	logger.Warn("document_failed", "id", failed.ID, "user_id", failed.UserID, "reason", reason)
	return failed, nil
}

func (w *Worker) observe(outcome domain.Status, started time.Time) {
	if w.recorder == nil {
		return
	}
	w.recorder.ObserveDocumentProcessed(w.processor.Name(), string(outcome), time.Since(started))
}

// ProcessAllPending picks up one page of pending documents across all
// users, oldest first, and processes them strictly one after another.
// One document's failure never halts the batch.
func (w *Worker) ProcessAllPending(ctx context.Context) (domain.ProcessReport, error) {
	logger := util.LoggerFromContext(ctx)
	report := domain.ProcessReport{StartedAt: time.Now().UTC()}

	rows, err := w.store.ListPendingAllUsers(ctx, w.pageLimit)
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}
	report.Total = len(rows)

	for i, row := range rows {
		if i > 0 {
			select {
			case <-ctx.Done():
				report.Duration = time.Since(report.StartedAt)
				return report, ctx.Err()
			case <-time.After(w.delay):
			}
		}
		final, err := w.ProcessDocument(ctx, row)
		if err != nil {
			report.Failed++
			logger.Error("document_processing_error", "id", row.ID, "error", err)
			continue
		}
		if final.Status == domain.StatusCompleted {
			report.Processed++
		} else {
			report.Failed++
		}
	}
	report.Duration = time.Since(report.StartedAt)
	logger.Info("batch_run_finished", "total", report.Total, "processed", report.Processed, "failed", report.Failed, "duration_ms", report.Duration.Milliseconds())
	return report, nil
}
