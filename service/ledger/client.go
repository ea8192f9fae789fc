package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/caskwatch/caskwatch/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
)

// Client fetches enriched transactions and asset metadata from the ledger
// provider. The transaction feed is a REST API; asset lookups go through
// the provider's JSON-RPC endpoint.
type Client struct {
	httpClient *http.Client
	apiBase    string // enhanced transaction feed base URL
	rpcURL     string // JSON-RPC endpoint for getAsset
	apiKey     string
	address    solanago.PublicKey // marketplace address whose history we ingest
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a ledger feed client for the given marketplace address.
// If httpClient is nil a default with a 30s timeout is used. If m is nil,
// no metrics will be recorded.
func NewClient(httpClient *http.Client, apiBase, rpcURL, apiKey, address string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	pub, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid marketplace address %q: %w", address, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		apiBase:    apiBase,
		rpcURL:     rpcURL,
		apiKey:     apiKey,
		address:    pub,
		metrics:    m,
		logger:     logger,
	}, nil
}

// GetTransactionsParams contains pagination parameters for one feed page.
type GetTransactionsParams struct {
	// Before fetches transactions strictly older than this signature.
	Before string
	// Until stops the feed at this signature (exclusive); used to avoid
	// re-fetching history that has already been committed.
	Until string
	// Limit is the page size. The caller keeps paginating while pages come
	// back full.
	Limit int
}

// GetTransactions fetches one page of enriched transactions, newest first.
// An empty page means the upstream has no more data; that is not an error.
// Transport and HTTP failures are wrapped in ErrUpstreamUnavailable.
func (c *Client) GetTransactions(ctx context.Context, params GetTransactionsParams) ([]RawTransaction, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}

	u, err := url.Parse(fmt.Sprintf("%s/v0/addresses/%s/transactions", c.apiBase, c.address.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", params.Limit))
	q.Set("commitment", "confirmed")
	if c.apiKey != "" {
		q.Set("api-key", c.apiKey)
	}
	if params.Before != "" {
		q.Set("before", params.Before)
	}
	if params.Until != "" {
		q.Set("until", params.Until)
	}
	u.RawQuery = q.Encode()

	c.logger.DebugContext(ctx, "fetching feed page",
		"address", c.address.String(),
		"limit", params.Limit,
		"before", params.Before,
		"until", params.Until,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordLedgerCall("GetTransactions", status, duration)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.metrics != nil {
			c.metrics.RecordLedgerRateLimitHit()
		}
		return nil, fmt.Errorf("%w: rate limited (429)", ErrUpstreamUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var transactions []RawTransaction
	if err := json.NewDecoder(resp.Body).Decode(&transactions); err != nil {
		return nil, fmt.Errorf("%w: failed to decode feed page: %v", ErrUpstreamUnavailable, err)
	}

	c.logger.DebugContext(ctx, "fetched feed page",
		"address", c.address.String(),
		"count", len(transactions),
	)

	return transactions, nil
}

// GetAsset looks up on-chain metadata for a mint via the provider's
// getAsset JSON-RPC call. The display name prefers the mint-extension
// metadata and falls back to the content metadata.
func (c *Client) GetAsset(ctx context.Context, mint string) (*AssetInfo, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getAsset",
		"params":  map[string]string{"id": mint},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal getAsset request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordLedgerCall("GetAsset", status, duration)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: getAsset status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var decoded getAssetResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode getAsset response: %v", ErrUpstreamUnavailable, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("getAsset failed for %s: %s (code %d)", mint, decoded.Error.Message, decoded.Error.Code)
	}
	if decoded.Result == nil {
		return nil, fmt.Errorf("getAsset returned no result for %s", mint)
	}

	info := &AssetInfo{ID: decoded.Result.ID}
	if ext := decoded.Result.MintExtensions; ext != nil && ext.Metadata.Name != "" {
		info.Name = ext.Metadata.Name
	} else if content := decoded.Result.Content; content != nil {
		info.Name = content.Metadata.Name
	}

	c.logger.DebugContext(ctx, "fetched on-chain asset metadata",
		"mint", mint,
		"name", info.Name,
	)

	return info, nil
}
