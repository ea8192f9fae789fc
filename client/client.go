// Package client provides an HTTP client for the caskwatch API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Activity is one record of the unified activity feed.
type Activity struct {
	ActivityIdx     int64     `json:"activity_idx"`
	ActivityTypeIdx int32     `json:"activity_type_idx"`
	AssetIdx        int64     `json:"asset_idx"`
	Price           *float64  `json:"price,omitempty"`
	ActivityDate    time.Time `json:"activity_date"`
	Signature       *string   `json:"signature,omitempty"`
	FromAccount     *string   `json:"from_account,omitempty"`
	ToAccount       *string   `json:"to_account,omitempty"`
}

// Asset is the detail record for one tokenized bottle.
type Asset struct {
	AssetIdx    int64           `json:"asset_idx"`
	AssetID     string          `json:"asset_id"`
	CatalogIdx  *int64          `json:"catalog_idx,omitempty"`
	Name        string          `json:"name"`
	Price       *float64        `json:"price,omitempty"`
	BottledYear *int32          `json:"bottled_year,omitempty"`
	Age         *int32          `json:"age,omitempty"`
	IsListed    bool            `json:"is_listed"`
	ListedDate  *time.Time      `json:"listed_date,omitempty"`
	AssetJSON   json.RawMessage `json:"asset_json,omitempty"`
	AddedDate   time.Time       `json:"added_date"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Stats mirrors the server's pipeline status report.
type Stats struct {
	State     string `json:"state"`
	LastCycle *struct {
		TotalProcessed     int       `json:"total_processed"`
		ParsedMints        int       `json:"parsed_mints"`
		ParsedBurns        int       `json:"parsed_burns"`
		ParsedPurchases    int       `json:"parsed_purchases"`
		InsertedActivities int       `json:"inserted_activities"`
		Errors             int       `json:"errors"`
		StartedAt          time.Time `json:"started_at"`
		FinishedAt         time.Time `json:"finished_at"`
	} `json:"last_cycle,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Client is the HTTP client for the caskwatch activity feed service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new caskwatch API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// ListActivities retrieves recent activity records, newest first.
func (c *Client) ListActivities(ctx context.Context, limit, offset int) ([]*Activity, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u := c.baseURL + "/api/v1/activities"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var activities []*Activity
	if err := c.getJSON(ctx, u, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetAsset retrieves one asset by its ledger address.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	u := fmt.Sprintf("%s/api/v1/assets/%s", c.baseURL, url.PathEscape(assetID))
	var asset Asset
	if err := c.getJSON(ctx, u, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetCheckpoint retrieves the ingest checkpoint signature, nil when no
// batch has ever been committed.
func (c *Client) GetCheckpoint(ctx context.Context) (*string, error) {
	var resp map[string]*string
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/checkpoint", &resp); err != nil {
		return nil, err
	}
	return resp["latest_processed_signature"], nil
}

// GetStats retrieves the pipeline status report.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts the error message from an API error body.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
