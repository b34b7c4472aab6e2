package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TikaProcessor sends documents to an Apache Tika server. Tika is
// stateless, so the owning user is not part of the request.
type TikaProcessor struct {
	baseURL    string
	httpClient *http.Client
}

func (p *TikaProcessor) Name() string { return "tika" }

func (p *TikaProcessor) Submit(ctx context.Context, data []byte, fileName, _ string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.baseURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/octet-stream")
	if fileName != "" {
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}
	return doSubmit(p.httpClient, req, p.Name())
}
