package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"docsync/pkg/domain"
)

// ExtractProcessor posts documents to the in-house extraction service as
// multipart uploads.
type ExtractProcessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (p *ExtractProcessor) Name() string { return "extract" }

func (p *ExtractProcessor) Submit(ctx context.Context, data []byte, fileName, userID string) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := writer.WriteField("userId", userID); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/extract", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if strings.TrimSpace(p.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return doSubmit(p.httpClient, req, p.Name())
}

// doSubmit runs a backend request and returns the validated JSON body.
func doSubmit(client *http.Client, req *http.Request, name string) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrProcessingBackend, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", domain.ErrProcessingBackend, name, resp.StatusCode, errorMessage(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %w", domain.ErrProcessingBackend, name, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s returned a non-JSON response", domain.ErrProcessingBackend, name)
	}
	return json.RawMessage(raw), nil
}

func errorMessage(resp *http.Response) string {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp)
	if strings.TrimSpace(errResp.Error) != "" {
		return errResp.Error
	}
	return resp.Status
}
