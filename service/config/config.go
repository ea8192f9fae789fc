package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger configuration
	LedgerRPCURL    string // JSON-RPC endpoint (getAsset lookups)
	LedgerAPIBase   string // enhanced transaction feed base URL
	LedgerAPIKey    string
	MarketplaceAddr string // address whose transaction history is ingested
	StablecoinMint  string // USDC mint used to detect purchases

	// Catalog API configuration
	CatalogAPIBase   string
	CatalogAPIKey    string
	CatalogAssetHost string // static metadata JSON host

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Ingestion configuration
	PollInterval  time.Duration // sleep between full ingest passes
	ErrorCooldown time.Duration // sleep after a failed cycle
	PageSize      int           // transactions per feed page
	MaxBatchSize  int           // accepted activity records per cycle
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger configuration
	cfg.LedgerRPCURL = os.Getenv("LEDGER_RPC_URL")
	if cfg.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LEDGER_RPC_URL is required"))
	}

	cfg.LedgerAPIBase = getEnvOrDefault("LEDGER_API_BASE", "https://api.helius.xyz")
	cfg.LedgerAPIKey = os.Getenv("LEDGER_API_KEY")

	cfg.MarketplaceAddr = os.Getenv("MARKETPLACE_ADDRESS")
	if cfg.MarketplaceAddr == "" {
		errs = append(errs, fmt.Errorf("MARKETPLACE_ADDRESS is required"))
	} else if _, err := solanago.PublicKeyFromBase58(cfg.MarketplaceAddr); err != nil {
		errs = append(errs, fmt.Errorf("MARKETPLACE_ADDRESS is not a valid address: %w", err))
	}

	cfg.StablecoinMint = getEnvOrDefault("STABLECOIN_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	if _, err := solanago.PublicKeyFromBase58(cfg.StablecoinMint); err != nil {
		errs = append(errs, fmt.Errorf("STABLECOIN_MINT_ADDRESS is not a valid address: %w", err))
	}

	// Catalog API configuration
	cfg.CatalogAPIBase = os.Getenv("CATALOG_API_BASE")
	if cfg.CatalogAPIBase == "" {
		errs = append(errs, fmt.Errorf("CATALOG_API_BASE is required"))
	}
	cfg.CatalogAPIKey = os.Getenv("CATALOG_API_KEY")
	cfg.CatalogAssetHost = getEnvOrDefault("CATALOG_ASSET_HOST", "https://assets.baxus.co")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "caskwatch-ingest")

	// Ingestion configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	errorCooldown, err := parseDuration("ERROR_COOLDOWN", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ErrorCooldown = errorCooldown
	}

	pageSize, err := parseInt("FEED_PAGE_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PageSize = pageSize
	}

	maxBatch, err := parseInt("MAX_BATCH_SIZE", 500)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxBatchSize = maxBatch
	}

	if cfg.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("FEED_PAGE_SIZE must be positive"))
	}
	if cfg.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_SIZE must be positive"))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LedgerRPCURL is required"))
	}

	if c.MarketplaceAddr == "" {
		errs = append(errs, fmt.Errorf("MarketplaceAddr is required"))
	}

	if c.StablecoinMint == "" {
		errs = append(errs, fmt.Errorf("StablecoinMint is required"))
	}

	if c.CatalogAPIBase == "" {
		errs = append(errs, fmt.Errorf("CatalogAPIBase is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PageSize must be positive"))
	}

	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("MaxBatchSize must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
