package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Processor submits one staged document to a processing backend and
// returns the backend's JSON result.
type Processor interface {
	Name() string
	Submit(ctx context.Context, data []byte, fileName, userID string) (json.RawMessage, error)
}

// Config selects and configures a processing backend.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the configured processor. Supported providers are
// "extract" (the default) and "tika".
func New(cfg Config) (Processor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("processor base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "extract":
		return &ExtractProcessor{baseURL: baseURL, apiKey: cfg.APIKey, httpClient: client}, nil
	case "tika":
		return &TikaProcessor{baseURL: baseURL, httpClient: client}, nil
	default:
		return nil, fmt.Errorf("unsupported processor provider: %q", cfg.Provider)
	}
}
