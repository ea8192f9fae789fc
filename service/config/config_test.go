package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ServerAddr:        ":8080",
		LogLevel:          "info",
		DatabaseURL:       "postgres://localhost:5432/caskwatch",
		NATSURL:           "nats://localhost:4222",
		LedgerRPCURL:      "https://mainnet.helius-rpc.com/?api-key=test",
		LedgerAPIBase:     "https://api.helius.xyz",
		MarketplaceAddr:   "BAXUz8YJsRtZVZuMaespnrDPMapvu83USD6PXh4GgHjg",
		StablecoinMint:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		CatalogAPIBase:    "https://catalog.example.com",
		CatalogAssetHost:  "https://assets.example.com",
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "caskwatch-ingest",
		PollInterval:      5 * time.Minute,
		ErrorCooldown:     time.Minute,
		PageSize:          100,
		MaxBatchSize:      500,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL")
}

func TestValidate_MissingLedgerRPCURL(t *testing.T) {
	cfg := validConfig()
	cfg.LedgerRPCURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LedgerRPCURL")
}

func TestValidate_MissingCatalogAPIBase(t *testing.T) {
	cfg := validConfig()
	cfg.CatalogAPIBase = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CatalogAPIBase")
}

func TestValidate_BadBatchSizes(t *testing.T) {
	cfg := validConfig()
	cfg.PageSize = 0
	cfg.MaxBatchSize = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PageSize")
	assert.Contains(t, err.Error(), "MaxBatchSize")
}

func TestValidate_PollIntervalTooSmall(t *testing.T) {
	cfg := validConfig()
	cfg.PollInterval = 500 * time.Millisecond
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PollInterval")
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/caskwatch")
	t.Setenv("LEDGER_RPC_URL", "https://mainnet.helius-rpc.com/?api-key=test")
	t.Setenv("MARKETPLACE_ADDRESS", "BAXUz8YJsRtZVZuMaespnrDPMapvu83USD6PXh4GgHjg")
	t.Setenv("CATALOG_API_BASE", "https://catalog.example.com")
	t.Setenv("POLL_INTERVAL", "2m")
	t.Setenv("MAX_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, 250, cfg.MaxBatchSize)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", cfg.StablecoinMint)
}

func TestLoad_InvalidMarketplaceAddress(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/caskwatch")
	t.Setenv("LEDGER_RPC_URL", "https://mainnet.helius-rpc.com/?api-key=test")
	t.Setenv("MARKETPLACE_ADDRESS", "not-a-base58-address!!")
	t.Setenv("CATALOG_API_BASE", "https://catalog.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARKETPLACE_ADDRESS")
}
