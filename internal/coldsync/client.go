package coldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BatchSender delivers one batch of records to a collection endpoint.
type BatchSender interface {
	SendBatch(ctx context.Context, collection string, records []any) error
}

// Client posts batches to the remote sync API: one endpoint per
// collection, each accepting a JSON array.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a sync API client with a bounded request timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendBatch posts records to POST {base}/v1/sync/{collection}. Any non-2xx
// response is an error; the engine aborts the rest of the run on it.
func (c *Client) SendBatch(ctx context.Context, collection string, records []any) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal %s batch: %w", collection, err)
	}

	url := c.baseURL + "/v1/sync/" + collection
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s batch: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sync API %s returned %d: %s", collection, resp.StatusCode, snippet)
	}

	return nil
}
