// Package vectorsearch is an HTTP client for the external specification
// similarity search service.
package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/reportgen/internal/knowledge"
)

// Client implements knowledge.Searcher over `POST {baseURL}/search`.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ knowledge.Searcher = (*Client)(nil)

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Hits []knowledge.Hit `json:"hits"`
}

// New creates a client. The timeout bounds every request on top of any
// caller deadline.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("search url cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "vector_search")),
	}, nil
}

// Search implements knowledge.Searcher.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]knowledge.Hit, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Hits, nil
}
