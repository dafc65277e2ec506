package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Payload is the metadata stored alongside every vector. Text holds the chunk
// excerpt, already truncated by the ingestion side.
type Payload struct {
	SourcePath string `json:"source_path"`
	SourceName string `json:"source_name"`
	FileSHA1   string `json:"file_sha1"`
	ChunkIndex int    `json:"chunk_index"`
	CreatedAt  int64  `json:"created_at"`
	Text       string `json:"text,omitempty"`
}

// Point is one upsert unit. IDs are derived from (file digest, chunk index),
// so re-ingesting an unchanged file overwrites instead of duplicating.
type Point struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// ScoredPoint is one similarity-search hit.
type ScoredPoint struct {
	ID      uint64  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Filter is the subset of Qdrant's filter DSL used here: a conjunction of
// exact payload matches.
type Filter struct {
	Must []Condition `json:"must"`
}

type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

type Match struct {
	Value any `json:"value"`
}

// MatchValue builds a single-condition filter on one payload field.
func MatchValue(key string, value any) *Filter {
	return &Filter{Must: []Condition{{Key: key, Match: Match{Value: value}}}}
}

// ScrollRequest drives one page of a cursor scan. Offset is the opaque cursor
// returned by the previous page; nil starts from the beginning.
type ScrollRequest struct {
	Filter *Filter
	Limit  int
	Offset json.RawMessage
}

// ScrollPage is one page of scroll results. NextOffset is nil (or JSON null)
// when the scan is exhausted.
type ScrollPage struct {
	Points     []ScoredPoint
	NextOffset json.RawMessage
}

// Config holds connection details for a Qdrant instance.
type Config struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// Client is a minimal REST client to Qdrant. It assumes cosine distance and
// talks to a single collection.
type Client struct {
	url        string
	collection string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection with the given vector size if it
// does not exist yet. Qdrant answers 200 for an existing collection with the
// same schema.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("vectorstore: invalid vector dimension")
	}
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/exists", c.collection), nil, &exists); err == nil && exists.Result.Exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", c.collection), body, nil)
}

// Upsert writes points with wait=true so a completed call means the points
// are queryable.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", c.collection), body, nil)
}

// Search returns the topK nearest points with payloads.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", c.collection), body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Scroll fetches one page of points matching the filter, payloads included,
// vectors excluded.
func (c *Client) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if req.Filter != nil {
		body["filter"] = req.Filter
	}
	if len(req.Offset) > 0 {
		body["offset"] = req.Offset
	}
	var resp struct {
		Result struct {
			Points         []ScoredPoint   `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", c.collection), body, &resp); err != nil {
		return ScrollPage{}, err
	}
	next := resp.Result.NextPageOffset
	if string(next) == "null" {
		next = nil
	}
	return ScrollPage{Points: resp.Result.Points, NextOffset: next}, nil
}

// Count returns the number of points in the collection.
func (c *Client) Count(ctx context.Context, exact bool) (int, error) {
	body := map[string]any{"exact": exact}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", c.collection), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// DeleteByFilter removes every point whose payload matches the filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if filter == nil {
		return errors.New("vectorstore: delete requires a filter")
	}
	body := map[string]any{"filter": filter}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection), body, nil)
}

// Ready probes the instance readiness endpoint, for health checks.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant readiness probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant readiness probe: status %s", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant %s %s: encode request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s: status %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
