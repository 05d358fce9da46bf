package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weomedia/compwatch/internal/monitor"
)

// SearchClientConfig points at the external search API.
type SearchClientConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
}

// SearchClient implements monitor.Searcher against a JSON search API that
// returns organic results with explicit positions.
type SearchClient struct {
	cfg    SearchClientConfig
	client *http.Client
}

// NewSearchClient builds a SearchClient.
func NewSearchClient(cfg SearchClientConfig) *SearchClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	return &SearchClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchAPIResponse struct {
	Results []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Position int    `json:"position"`
	} `json:"organic_results"`
}

// Search queries the API and returns results in rank order.
func (c *SearchClient) Search(ctx context.Context, keyword string) ([]monitor.SearchResult, error) {
	if c.cfg.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is not configured")
	}

	query := url.Values{}
	query.Set("q", keyword)
	query.Set("num", fmt.Sprintf("%d", c.cfg.MaxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search API status %d", resp.StatusCode)
	}

	var payload searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]monitor.SearchResult, 0, len(payload.Results))
	for i, r := range payload.Results {
		position := r.Position
		if position == 0 {
			position = i + 1
		}
		results = append(results, monitor.SearchResult{
			Title:    r.Title,
			URL:      r.Link,
			Domain:   domainOf(r.Link),
			Position: position,
		})
	}
	return results, nil
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.ToLower(link)
	}
	return strings.ToLower(u.Host)
}
