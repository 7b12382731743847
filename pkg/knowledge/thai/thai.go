// Package thai is a thin HTTP client for the Thai word-segmentation
// sidecar, structured the way sashabaranov/go-openai structures its own
// HTTP client (explicit ClientConfig, a single doRequest helper, typed
// request/response structs) even though the wire format here is the
// sidecar's own JSON, not OpenAI's.
package thai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig mirrors go-openai's ClientConfig shape: a base URL plus an
// injectable *http.Client so callers can swap in their own transport
// (timeouts, proxies) for tests.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

func DefaultConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Client calls the Thai segmentation sidecar.
type Client struct {
	config ClientConfig
}

func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{config: config}
}

type segmentRequest struct {
	Text string `json:"text"`
}

type segmentResponse struct {
	Words []string `json:"words"`
	Error string   `json:"error,omitempty"`
}

// Segment splits Thai text into words, since Thai script carries no
// inter-word whitespace for the chunk splitter's scanner to key off.
func (c *Client) Segment(ctx context.Context, text string) ([]string, error) {
	var resp segmentResponse
	if err := c.doRequest(ctx, "/segment", segmentRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("thai sidecar: %s", resp.Error)
	}
	return resp.Words, nil
}

func (c *Client) doRequest(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode thai sidecar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build thai sidecar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call thai sidecar: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read thai sidecar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thai sidecar returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode thai sidecar response: %w", err)
	}
	return nil
}
