package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxAddressLength = 100 // ledger addresses are 44 chars, give buffer
)

// Valid ledger address characters: base58 (no 0, O, I, l)
var validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// activityResponse is the API shape of one activity feed record.
type activityResponse struct {
	ActivityIdx     int64     `json:"activity_idx"`
	ActivityTypeIdx int32     `json:"activity_type_idx"`
	AssetIdx        int64     `json:"asset_idx"`
	Price           *float64  `json:"price,omitempty"`
	ActivityDate    time.Time `json:"activity_date"`
	Signature       *string   `json:"signature,omitempty"`
	FromAccount     *string   `json:"from_account,omitempty"`
	ToAccount       *string   `json:"to_account,omitempty"`
}

// assetResponse is the API shape of one asset detail record.
type assetResponse struct {
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

// handleListActivities returns a handler that lists recent activity
// records, newest first.
// GET /api/v1/activities?limit={n}&offset={n}
func handleListActivities(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseQueryInt(r, "limit", defaultListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if limit < 1 || limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), http.StatusBadRequest)
			return
		}
		offset, err := parseQueryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			writeError(w, "invalid offset", http.StatusBadRequest)
			return
		}

		records, err := store.ListActivities(r.Context(), int32(limit), int32(offset))
		if err != nil {
			logger.Error("failed to list activities", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]activityResponse, len(records))
		for i, record := range records {
			resp[i] = activityResponse{
				ActivityIdx:     record.ActivityIdx,
				ActivityTypeIdx: record.ActivityTypeIdx,
				AssetIdx:        record.AssetIdx,
				Price:           record.Price,
				ActivityDate:    record.ActivityDate,
				Signature:       record.Signature,
				FromAccount:     record.FromAccount,
				ToAccount:       record.ToAccount,
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetAsset returns a handler that retrieves one asset by its ledger
// address.
// GET /api/v1/assets/{asset_id}
func handleGetAsset(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetID := r.PathValue("asset_id")
		if err := validateAddress(assetID); err != nil {
			logger.Debug("invalid asset id", "asset_id", assetID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		asset, err := store.GetAssetByID(r.Context(), assetID)
		if err != nil {
			logger.Error("failed to get asset", "asset_id", assetID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if asset == nil {
			writeError(w, "asset not found", http.StatusNotFound)
			return
		}

		writeJSON(w, assetResponse{
			AssetIdx:    asset.AssetIdx,
			AssetID:     asset.AssetID,
			CatalogIdx:  asset.CatalogIdx,
			Name:        asset.Name,
			Price:       asset.Price,
			BottledYear: asset.BottledYear,
			Age:         asset.Age,
			IsListed:    asset.IsListed,
			ListedDate:  asset.ListedDate,
			AssetJSON:   asset.AssetJSON,
			AddedDate:   asset.AddedDate,
			LastUpdated: asset.LastUpdated,
		}, http.StatusOK)
	})
}

// handleGetCheckpoint returns a handler that reports the ingest checkpoint.
// GET /api/v1/checkpoint
func handleGetCheckpoint(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature, err := store.HighestCommittedSignature(r.Context())
		if err != nil {
			logger.Error("failed to read checkpoint", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]*string{"latest_processed_signature": signature}, http.StatusOK)
	})
}

// handleGetStats returns a handler that reports pipeline state and the
// last cycle's stats.
// GET /api/v1/stats
func handleGetStats(stats StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stats.Status(), http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a ledger address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("asset id is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("asset id too long: maximum length is %d characters", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("asset id contains invalid characters")
	}
	return nil
}

func parseQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}
