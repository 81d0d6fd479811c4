package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Putter stores bytes at an authorized upload URL.
type Putter interface {
	Put(ctx context.Context, url, contentType string, data []byte) error
}

// HTTPPutter uploads with a plain HTTP PUT, as presigned URLs expect.
type HTTPPutter struct {
	client *http.Client
}

// NewHTTPPutter creates a putter. A nil client gets a traced client with a
// generous timeout suited to image bodies.
func NewHTTPPutter(client *http.Client) *HTTPPutter {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   2 * time.Minute,
		}
	}
	return &HTTPPutter{client: client}
}

// Put sends data to url. Any non-2xx response is an error.
func (p *HTTPPutter) Put(ctx context.Context, url, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
