// Package connectors holds the built-in connector implementations and the
// factory that maps a source config onto one.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

// New builds a connector for the given source config. Database kinds have no
// built-in implementation here; embedding applications register those
// programmatically.
func New(config domain.SourceConfig) (domain.Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Kind {
	case domain.ConnectorHTTP:
		return NewHTTPConnector(*config.HTTP), nil
	default:
		return nil, fmt.Errorf("no built-in connector for kind %q", string(config.Kind))
	}
}

// HTTPConnector syncs from a paginated JSON API. Each stream is a resource
// path under the base URL; pagination is driven by an opaque cursor query
// parameter echoed back by the server.
type HTTPConnector struct {
	config domain.HTTPConfig
	client *http.Client
}

// NewHTTPConnector creates a connector over the given API config.
func NewHTTPConnector(config domain.HTTPConfig) *HTTPConnector {
	if config.CursorParam == "" {
		config.CursorParam = "cursor"
	}
	return &HTTPConnector{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// batchResponse is the wire shape of a stream page.
type batchResponse struct {
	Records []domain.Record `json:"records"`
	Cursor  string          `json:"cursor"`
}

// FetchBatch requests one page of a stream.
func (c *HTTPConnector) FetchBatch(ctx context.Context, stream, cursor string) (*domain.Batch, error) {
	endpoint, err := url.JoinPath(c.config.BaseURL, stream)
	if err != nil {
		return nil, domain.PermanentError(fmt.Errorf("invalid stream url: %w", err))
	}

	query := url.Values{}
	if cursor != "" {
		query.Set(c.config.CursorParam, cursor)
	}
	if c.config.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(c.config.PageSize))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var response batchResponse
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	return &domain.Batch{
		Records:   response.Records,
		MaxCursor: response.Cursor,
	}, nil
}

// DiscoverStreams lists the resources the API exposes.
func (c *HTTPConnector) DiscoverStreams(ctx context.Context) ([]string, error) {
	endpoint, err := url.JoinPath(c.config.BaseURL, "streams")
	if err != nil {
		return nil, domain.PermanentError(fmt.Errorf("invalid discovery url: %w", err))
	}

	var response struct {
		Streams []string `json:"streams"`
	}
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return nil, err
	}
	return response.Streams, nil
}

// Ordering returns the default comparator; HTTP cursors are timestamps or
// numeric ids in practice.
func (c *HTTPConnector) Ordering() domain.CursorOrdering {
	return domain.DefaultOrdering
}

func (c *HTTPConnector) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.PermanentError(err)
	}
	if c.config.AuthHeader != "" {
		req.Header.Set("Authorization", c.config.AuthHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures (timeouts, resets, DNS) are retryable.
		return domain.TransientError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return domain.PermanentError(fmt.Errorf("%w: %s", domain.ErrStreamNotFound, endpoint))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.TransientError(fmt.Errorf("server returned %s", resp.Status))
	default:
		return domain.PermanentError(fmt.Errorf("server returned %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.PermanentError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
