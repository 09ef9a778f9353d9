package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/passage/internal/models"
)

// Client calls the HTTP API of a running passage server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// no overall timeout: ingest can run for minutes
		httpClient: &http.Client{},
	}
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Search runs a search on the server.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/search", q, &out, 60*time.Second); err != nil {
		return nil, err
	}
	return &out, nil
}

// Context fetches a formatted context block.
func (c *Client) Context(ctx context.Context, q *models.ContextQuery) (*models.ContextResponse, error) {
	var out models.ContextResponse
	if err := c.do(ctx, http.MethodPost, "/api/context", q, &out, 60*time.Second); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches pipeline statistics.
func (c *Client) Stats(ctx context.Context) (*models.PipelineStats, error) {
	var out models.PipelineStats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out, 30*time.Second); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest asks the server to (re)build its index.
func (c *Client) Ingest(ctx context.Context, force bool) (*models.IngestReport, error) {
	var out models.IngestReport
	if err := c.do(ctx, http.MethodPost, "/api/ingest", &models.IngestRequest{ForceRebuild: force}, &out, 0); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear empties the server's index.
func (c *Client) Clear(ctx context.Context, persist bool) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/clear", &models.ClearRequest{Persist: persist}, &out, 30*time.Second); err != nil {
		return "", err
	}
	return out.Message, nil
}

// do sends body as JSON and decodes a 200 response into out. A zero timeout means none.
func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running at %s?): %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
