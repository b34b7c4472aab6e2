package store

import (
	"context"
	"encoding/json"

	"docsync/pkg/domain"
)

// DocumentStore is the registry of synced documents. Rows are keyed by
// (user_id, remote_file_id); the numeric primary key exists for API
// addressing only.
type DocumentStore interface {
	// UpsertMany inserts or refreshes one row per item inside a single
	// transaction. Existing rows keep their processing state; only the
	// descriptive and staging columns are overwritten. The returned slice
	// follows the input order.
	UpsertMany(ctx context.Context, userID string, items []domain.DocumentUpsert) ([]domain.Document, error)

	// Get returns the document with the given id, or
	// domain.ErrDocumentNotFound.
	Get(ctx context.Context, id int64) (domain.Document, error)

	// ListByUser returns every document owned by userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]domain.Document, error)

	// ListPending returns up to limit pending documents for one user,
	// oldest first. limit <= 0 means no limit.
	ListPending(ctx context.Context, userID string, limit int) ([]domain.Document, error)

	// ListPendingAllUsers is ListPending across every user.
	ListPendingAllUsers(ctx context.Context, limit int) ([]domain.Document, error)

	// Transition moves a document to the given status. A move to failed
	// requires a non-empty reason; a move to completed clears the failure
	// reason and the staging columns. Returns the updated document.
	Transition(ctx context.Context, id int64, status domain.Status, reason string) (domain.Document, error)

	// MarkCompleted is Transition to completed plus storing the
	// processing result.
	MarkCompleted(ctx context.Context, id int64, result json.RawMessage) (domain.Document, error)

	// Stats aggregates per-status and per-MIME-type counts for one user.
	Stats(ctx context.Context, userID string) (domain.Stats, error)

	// Delete removes the row. The staged file is the caller's problem.
	Delete(ctx context.Context, id int64) error
}
