package remote

import (
	"context"
	"fmt"
	"strings"

	"docsync/pkg/domain"
)

// Ingestable MIME types. Discovery filters server-side and drops
// anything else that still slips through.
var allowedMimeTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"text/plain",
	"text/markdown",
}

// AllowedMimeTypes returns the ingestion allow-list.
func AllowedMimeTypes() []string {
	out := make([]string, len(allowedMimeTypes))
	copy(out, allowedMimeTypes)
	return out
}

// IsAllowedMimeType reports whether a MIME type is ingestable.
func IsAllowedMimeType(mime string) bool {
	for _, m := range allowedMimeTypes {
		if m == mime {
			return true
		}
	}
	return false
}

// Source lists and fetches documents from a remote storage account.
// Every call is bound to the supplied user credential.
type Source interface {
	// ListDocuments returns all non-trashed, allow-listed files visible
	// to the credential, across all result pages.
	ListDocuments(ctx context.Context, accessToken string) ([]domain.RemoteFile, error)

	// Download fetches the raw content of one file. Failures map onto
	// domain.ErrRemoteAuth, domain.ErrRemoteNotFound and
	// domain.ErrRemoteTransient.
	Download(ctx context.Context, accessToken, fileID string) ([]byte, error)
}

func listQuery() string {
	clauses := make([]string, 0, len(allowedMimeTypes))
	for _, mime := range allowedMimeTypes {
		clauses = append(clauses, fmt.Sprintf("mimeType = '%s'", mime))
	}
	return "(" + strings.Join(clauses, " or ") + ") and trashed = false"
}
