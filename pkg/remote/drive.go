package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docsync/pkg/domain"
)

const (
	defaultPageSize = 100

	listFields = "nextPageToken, files(id, name, mimeType, size, webViewLink, modifiedTime)"
)

type DriveOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	PageSize   int64
}

type DriveOption func(*DriveOptions)

// WithEndpoint overrides the Drive API base URL.
func WithEndpoint(endpoint string) DriveOption {
	return func(opts *DriveOptions) {
		opts.Endpoint = endpoint
	}
}

// WithHTTPClient supplies a pre-authenticated HTTP client. When set,
// the per-call access token is not used.
func WithHTTPClient(client *http.Client) DriveOption {
	return func(opts *DriveOptions) {
		opts.HTTPClient = client
	}
}

// WithPageSize overrides the discovery page size.
func WithPageSize(size int64) DriveOption {
	return func(opts *DriveOptions) {
		opts.PageSize = size
	}
}

// DriveSource reads a user's Google Drive. A fresh API service is built
// per call around the caller's access token; the source itself holds no
// credentials.
type DriveSource struct {
	endpoint   string
	httpClient *http.Client
	pageSize   int64
}

func NewDriveSource(options ...DriveOption) *DriveSource {
	opts := DriveOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &DriveSource{
		endpoint:   opts.Endpoint,
		httpClient: opts.HTTPClient,
		pageSize:   pageSize,
	}
}

func (s *DriveSource) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	opts := []option.ClientOption{}
	if s.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(s.httpClient))
	} else {
		if strings.TrimSpace(accessToken) == "" {
			return nil, fmt.Errorf("%w: empty access token", domain.ErrRemoteAuth)
		}
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: build drive service: %w", domain.ErrRemoteTransient, err)
	}
	return svc, nil
}

// ListDocuments walks every result page of a filtered files.list call.
func (s *DriveSource) ListDocuments(ctx context.Context, accessToken string) ([]domain.RemoteFile, error) {
	svc, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	var files []domain.RemoteFile
	call := svc.Files.List().
		Q(listQuery()).
		Fields(listFields).
		PageSize(s.pageSize)
	err = call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			if f == nil || !IsAllowedMimeType(f.MimeType) {
				continue
			}
			files = append(files, fileFromDrive(f))
		}
		return nil
	})
	if err != nil {
		return nil, mapRemoteError("list files", err)
	}
	return files, nil
}

// Download fetches one file's content via alt=media.
func (s *DriveSource) Download(ctx context.Context, accessToken, fileID string) ([]byte, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, fmt.Errorf("%w: empty file id", domain.ErrRemoteNotFound)
	}
	svc, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, mapRemoteError("download "+fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapRemoteError("read body of "+fileID, err)
	}
	return data, nil
}

func fileFromDrive(f *drive.File) domain.RemoteFile {
	var modifiedAt *time.Time
	if f.ModifiedTime != "" {
		if ts, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			utc := ts.UTC()
			modifiedAt = &utc
		}
	}
	return domain.RemoteFile{
		ID:         f.Id,
		Name:       f.Name,
		MimeType:   f.MimeType,
		SizeBytes:  f.Size,
		ViewLink:   f.WebViewLink,
		ModifiedAt: modifiedAt,
	}
}

// mapRemoteError folds Drive API failures into the shared error
// taxonomy. Context cancellation passes through untouched so shutdown
// is distinguishable from remote trouble.
func mapRemoteError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", domain.ErrRemoteAuth, op, err)
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %w", domain.ErrRemoteNotFound, op, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return fmt.Errorf("%w: %s: %w", domain.ErrRemoteTransient, op, err)
		default:
			return fmt.Errorf("remote: %s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrRemoteTransient, op, err)
}
