package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"webbroker/pkg/models"
)

// metadataTimeout bounds provider metadata calls (create, fetch, release).
// Session connection establishment uses the configured session timeout.
const metadataTimeout = 15 * time.Second

// RemoteConfig carries the per-backend knobs for a cloud browser provider.
type RemoteConfig struct {
	APIKey         string
	ProjectID      string
	BaseURL        string
	MaxConcurrency int64
	SessionTimeout time.Duration
	LiveView       bool
}

// Enabled reports whether credentials are present for this backend.
func (c RemoteConfig) Enabled() bool { return c.APIKey != "" }

func (c RemoteConfig) sessionTimeout() time.Duration {
	if c.SessionTimeout <= 0 {
		return 600 * time.Second
	}
	return c.SessionTimeout
}

func (c RemoteConfig) maxConcurrency() int64 {
	if c.MaxConcurrency <= 0 {
		return 3
	}
	return c.MaxConcurrency
}

// apiClient is a thin JSON client for one provider's HTTP surface. Every
// error it returns is already classified as a *Error.
type apiClient struct {
	backend models.Backend
	baseURL string
	headers map[string]string
	client  *http.Client
}

func newAPIClient(backend models.Backend, baseURL string, headers map[string]string) *apiClient {
	return &apiClient{
		backend: backend,
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: metadataTimeout},
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Backend: c.backend, Message: fmt.Sprintf("marshal request: %v", err), cause: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Backend: c.backend, Message: fmt.Sprintf("build request: %v", err), cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifyTransport(c.backend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ClassifyTransport(c.backend, err)
	}
	if resp.StatusCode >= 400 {
		return ClassifyStatus(c.backend, resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Backend: c.backend, Message: fmt.Sprintf("decode response: %v", err), cause: err}
		}
	}
	return nil
}
