// Package qdrant is a minimal REST client for the Qdrant vector database,
// covering the operations the indexing layer needs: collection management,
// payload field indexes, point upsert, similarity search and filtered
// scroll. It is not a general-purpose SDK.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable indicates the Qdrant service could not be reached or
// returned an unexpected error.
var ErrUnavailable = errors.New("qdrant: service unavailable")

// Client talks to a Qdrant instance over its REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the Qdrant REST API base URL (default http://localhost:6333).
	BaseURL string

	// Timeout is the HTTP request timeout (default 30s).
	Timeout time.Duration
}

// New creates a Qdrant client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Point is a vector with its identifier and metadata payload.
type Point struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScoredPoint is a similarity search hit.
type ScoredPoint struct {
	ID      uint64         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Record is a point returned by a scroll page.
type Record struct {
	ID      uint64         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// CollectionInfo describes a collection's state.
type CollectionInfo struct {
	Name       string
	PointCount int64
	Status     string
	Dimensions int
}

// Filter restricts search or scroll results by payload fields. All
// conditions must match.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition is an exact payload match.
type Condition struct {
	Key   string `json:"key"`
	Match any    `json:"-"`
}

// MarshalJSON emits the Qdrant match condition shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"key":   c.Key,
		"match": map[string]any{"value": c.Match},
	})
}

// OrderBy sorts scroll results by a payload field.
type OrderBy struct {
	Key       string `json:"key"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// CreateCollection creates a collection with cosine distance, on-disk
// vectors and the HNSW parameters used for audio fingerprints.
func (c *Client) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
			"on_disk":  true,
		},
		"hnsw_config": map[string]any{
			"m":                   16,
			"ef_construct":        100,
			"full_scan_threshold": 10000,
		},
	}
	_, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	return err
}

// DeleteCollection removes a collection and all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/collections/"+name, nil)
	return err
}

// CollectionExists reports whether the named collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.doRaw(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, body)
	}
	return true, nil
}

// CollectionInfo returns metadata about a collection. A missing collection
// is an error; use CollectionExists first when absence is expected.
func (c *Client) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	raw, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: decode collection info: %w", err)
	}
	return &CollectionInfo{
		Name:       name,
		PointCount: resp.Result.PointsCount,
		Status:     resp.Result.Status,
		Dimensions: resp.Result.Config.Params.Vectors.Size,
	}, nil
}

// CreateFieldIndex provisions a payload field index. schema is a Qdrant
// payload schema type such as "integer" or "keyword".
func (c *Client) CreateFieldIndex(ctx context.Context, collection, field, schema string) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": schema,
	}
	_, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/index", body)
	return err
}

// Upsert adds or replaces points, waiting for the write to be applied.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{"points": points}
	_, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	return err
}

// SearchParams describe a similarity query.
type SearchParams struct {
	Collection string
	Vector     []float32
	Limit      int
}

// Search returns the nearest points by the collection's distance metric,
// best first, with payloads attached.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       p.Vector,
		"limit":        p.Limit,
		"with_payload": true,
	}
	raw, err := c.do(ctx, http.MethodPost, "/collections/"+p.Collection+"/points/search", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: decode search response: %w", err)
	}
	return resp.Result, nil
}

// ScrollParams describe a filtered point listing.
type ScrollParams struct {
	Collection string
	Filter     *Filter
	OrderBy    *OrderBy
	Limit      int
	Offset     any // opaque next-page token from a previous scroll
}

// Scroll lists points matching the filter, with payloads. It returns the
// page and the offset token for the next page (nil when exhausted).
func (c *Client) Scroll(ctx context.Context, p ScrollParams) ([]Record, any, error) {
	body := map[string]any{
		"limit":        p.Limit,
		"with_payload": true,
	}
	if p.Filter != nil {
		body["filter"] = p.Filter
	}
	if p.OrderBy != nil {
		body["order_by"] = p.OrderBy
	}
	if p.Offset != nil {
		body["offset"] = p.Offset
	}
	raw, err := c.do(ctx, http.MethodPost, "/collections/"+p.Collection+"/points/scroll", body)
	if err != nil {
		return nil, nil, err
	}

	var resp struct {
		Result struct {
			Points         []Record `json:"points"`
			NextPageOffset any      `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("qdrant: decode scroll response: %w", err)
	}
	return resp.Result.Points, resp.Result.NextPageOffset, nil
}

// do sends a request and returns the raw response body for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("qdrant: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}
