// Package catalog implements a client for the bottle catalog API, the
// off-chain registry that maps ledger asset addresses to bottle details
// and marketplace listings.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/caskwatch/caskwatch/service/metrics"
)

// Client talks to the catalog API. Transient failures (429 and 5xx) are
// retried with exponential backoff; other client errors fail immediately.
type Client struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	assetHost  string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a catalog API client.
func NewClient(httpClient *http.Client, apiBase, apiKey, assetHost string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		apiBase:    strings.TrimRight(apiBase, "/"),
		apiKey:     apiKey,
		assetHost:  strings.TrimRight(assetHost, "/"),
		metrics:    m,
		logger:     logger,
	}
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
}

// doJSON executes one HTTP request with retries and decodes the response
// body into out.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, body []byte, methodLabel string, out any) error {
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil || (resp != nil && resp.StatusCode != http.StatusOK) {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordCatalogCall(methodLabel, status, duration)
		}
		if err != nil {
			return fmt.Errorf("catalog request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode catalog response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("catalog returned status %d", resp.StatusCode)
		default:
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(payload)))
		}
	}

	return backoff.Retry(operation, c.newBackoff(ctx))
}

// SearchAssets queries the catalog search endpoint.
func (c *Client) SearchAssets(ctx context.Context, params SearchParams) ([]AssetHit, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(params.From))
	q.Set("size", strconv.Itoa(params.Size))
	for _, st := range params.SpiritTypes {
		q.Add("type", st)
	}
	if params.ListedOnly {
		q.Set("listed", "true")
	}
	if params.Sort != "" {
		q.Set("sort", params.Sort)
	}

	var resp SearchResponse
	u := c.apiBase + "/api/search/assets?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, u, nil, "SearchAssets", &resp); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "catalog search", "total", resp.Total, "hits", len(resp.Hits))
	return resp.Hits, nil
}

// GetAssetsByAddresses looks up catalog records for a batch of ledger
// addresses. Addresses the catalog does not know are simply absent from
// the result.
func (c *Client) GetAssetsByAddresses(ctx context.Context, addresses []string) ([]AssetHit, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(searchBody{AssetAddresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to encode address batch: %w", err)
	}

	var resp SearchResponse
	u := c.apiBase + "/api/search/assets"
	if err := c.doJSON(ctx, http.MethodPost, u, body, "GetAssetsByAddresses", &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// GetNewListings returns the most recently listed assets, newest first.
func (c *Client) GetNewListings(ctx context.Context, size int) ([]AssetHit, error) {
	return c.SearchAssets(ctx, SearchParams{
		Size:       size,
		ListedOnly: true,
		Sort:       "listedDate:desc",
	})
}

// GetAssetMetadata fetches the off-chain token metadata document for a
// catalog asset. Returns the raw JSON document.
func (c *Client) GetAssetMetadata(ctx context.Context, catalogIdx int64) ([]byte, error) {
	u := fmt.Sprintf("%s/%d/solana-nft-metadata.json", c.assetHost, catalogIdx)

	var doc json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, u, nil, "GetAssetMetadata", &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
