package domain

import "errors"

// Pipeline error taxonomy. Callers match with errors.Is; producers wrap
// these sentinels with fmt.Errorf("%w: ...", ...) so the cause stays in
// the chain.
var (
	// ErrRemoteAuth marks an expired or invalid remote credential. Token
	// refresh is the credential provider's job; this core never retries it.
	ErrRemoteAuth = errors.New("remote credential rejected")

	// ErrRemoteNotFound marks a file that vanished between listing and
	// download.
	ErrRemoteNotFound = errors.New("remote file not found")

	// ErrRemoteTransient marks 429/5xx and transport failures from the
	// remote storage account.
	ErrRemoteTransient = errors.New("remote storage unavailable")

	// ErrStagingNotFound marks a staged file missing at read time.
	ErrStagingNotFound = errors.New("staged file not found")

	// ErrProcessingBackend marks a non-2xx response or timeout from the
	// external processing backend.
	ErrProcessingBackend = errors.New("processing backend failure")

	// ErrRegistry marks a transaction or constraint failure in the
	// document registry.
	ErrRegistry = errors.New("registry failure")

	// ErrDocumentNotFound marks an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrFailureReasonRequired rejects a failed transition without a
	// non-empty reason.
	ErrFailureReasonRequired = errors.New("failed status requires a reason")
)
