// Package datasource implements the query backends: Elasticsearch and
// GraphQL clients, the capabilities that build queries for them, and the
// executors that run those queries, including a hybrid fan-out across both.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"helmsman/internal/logging"
)

// ESClient talks to one Elasticsearch index over the REST search API.
type ESClient struct {
	baseURL    string
	index      string
	httpClient *http.Client
}

// NewESClient creates a client for the given base URL and index.
func NewESClient(baseURL, index string, timeout time.Duration) *ESClient {
	return &ESClient{
		baseURL:    baseURL,
		index:      index,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SearchResult is the subset of the search response the engine consumes.
type SearchResult struct {
	Total    int                      `json:"total"`
	Took     time.Duration            `json:"took"`
	Hits     []map[string]interface{} `json:"hits"`
	Timedout bool                     `json:"timed_out"`
}

// esResponse mirrors the wire shape of a search response.
type esResponse struct {
	Took     int  `json:"took"`
	TimedOut bool `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Error *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Search runs a query body against the index.
func (c *ESClient) Search(ctx context.Context, query map[string]interface{}) (*SearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_search", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logging.DataSourceDebug("elasticsearch search: %s body_len=%d", url, len(body))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed esResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("search failed: %s: %s", parsed.Error.Type, parsed.Error.Reason)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	result := &SearchResult{
		Total:    parsed.Hits.Total.Value,
		Took:     time.Duration(parsed.Took) * time.Millisecond,
		Timedout: parsed.TimedOut,
	}
	for _, hit := range parsed.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}
	logging.DataSource("elasticsearch returned %d hits in %v", result.Total, result.Took)
	return result, nil
}
