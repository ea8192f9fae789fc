package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/caskwatch/caskwatch/service/catalog"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/metrics"
	"github.com/caskwatch/caskwatch/service/nats"
)

const (
	// listingDedupThreshold is how far apart two observations of the same
	// asset/price can be and still count as one listing. The catalog's
	// listedDate drifts from the on-chain confirmation time by up to two
	// hours, plus a small allowance for clock skew.
	listingDedupThreshold = 7230 * time.Second

	// publishWindow bounds how old a listing can be and still produce a
	// NATS event. Older listings are backfill, not news.
	publishWindow = 2 * time.Hour

	// defaultListingFetchSize is how many recent listings each poll pulls.
	defaultListingFetchSize = 50
)

// CatalogClient is the subset of the catalog API the listing processor needs.
type CatalogClient interface {
	GetNewListings(ctx context.Context, size int) ([]catalog.AssetHit, error)
	GetAssetMetadata(ctx context.Context, catalogIdx int64) ([]byte, error)
}

// ListingStore is the subset of the database store the listing processor needs.
type ListingStore interface {
	GetActivityTypeMap(ctx context.Context) (map[string]int32, error)
	UpsertAsset(ctx context.Context, params db.UpsertAssetParams) (*db.Asset, bool, bool, error)
	InsertAssetJSON(ctx context.Context, assetIdx int64, assetJSON, metadataJSON []byte) error
	ActivityExistsWithinThreshold(ctx context.Context, assetIdx int64, activityTypeIdx int32, price float64, date time.Time, threshold time.Duration) (bool, error)
	InsertActivity(ctx context.Context, record db.InsertActivityParams) (int64, error)
	TouchAsset(ctx context.Context, assetIdx int64) error
}

// ListingStats summarizes one listing poll.
type ListingStats struct {
	Fetched     int `json:"fetched"`
	NewListings int `json:"new_listings"`
	Duplicates  int `json:"duplicates"`
	Published   int `json:"published"`
	Errors      int `json:"errors"`
}

// ListingProcessor polls the catalog for fresh marketplace listings,
// records them as NEW_LISTING activities, and announces recent ones over
// NATS. Listings carry no ledger signature, so deduplication is by
// asset, price, and a time window instead.
type ListingProcessor struct {
	catalog   CatalogClient
	store     ListingStore
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	fetchSize int
	now       func() time.Time

	// seen short-circuits listings already handled in recent polls, keyed
	// by asset address and listed date.
	seen *gocache.Cache
}

// NewListingProcessor creates a ListingProcessor. publisher may be nil to
// disable event publishing.
func NewListingProcessor(catalogClient CatalogClient, store ListingStore, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *ListingProcessor {
	return &ListingProcessor{
		catalog:   catalogClient,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		fetchSize: defaultListingFetchSize,
		now:       time.Now,
		seen:      gocache.New(4*time.Hour, time.Hour),
	}
}

// ProcessNewListings runs one listing poll. Listings are handled oldest
// first so partial failures leave a contiguous prefix recorded. Per-listing
// failures are counted and skipped; only catalog-level failures abort the
// poll.
func (lp *ListingProcessor) ProcessNewListings(ctx context.Context) (ListingStats, error) {
	var stats ListingStats

	hits, err := lp.catalog.GetNewListings(ctx, lp.fetchSize)
	if err != nil {
		stats.Errors++
		if lp.metrics != nil {
			lp.metrics.RecordIngestError("listings_fetch")
		}
		return stats, fmt.Errorf("failed to fetch new listings: %w", err)
	}
	stats.Fetched = len(hits)

	typeMap, err := lp.store.GetActivityTypeMap(ctx)
	if err != nil {
		stats.Errors++
		return stats, err
	}
	listingType, ok := typeMap["NEW_LISTING"]
	if !ok {
		return stats, fmt.Errorf("activity type NEW_LISTING not seeded")
	}

	// The catalog returns newest first.
	for i := len(hits) - 1; i >= 0; i-- {
		if err := lp.processListing(ctx, hits[i].Source, listingType, &stats); err != nil {
			stats.Errors++
			if lp.metrics != nil {
				lp.metrics.RecordIngestError("listing")
			}
			lp.logger.WarnContext(ctx, "failed to process listing",
				"asset_address", hits[i].Source.AssetAddress,
				"error", err,
			)
		}
	}

	lp.logger.InfoContext(ctx, "listing poll finished",
		"fetched", stats.Fetched,
		"new", stats.NewListings,
		"duplicates", stats.Duplicates,
		"published", stats.Published,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (lp *ListingProcessor) processListing(ctx context.Context, source catalog.AssetSource, listingType int32, stats *ListingStats) error {
	listedAt := source.ListedTime()
	if listedAt == nil {
		lp.logger.DebugContext(ctx, "listing without a usable listed date", "asset_address", source.AssetAddress)
		return nil
	}
	if source.Price == nil {
		lp.logger.DebugContext(ctx, "listing without a price", "asset_address", source.AssetAddress)
		return nil
	}

	cacheKey := source.AssetAddress + "|" + listedAt.Format(time.RFC3339)
	if _, found := lp.seen.Get(cacheKey); found {
		stats.Duplicates++
		return nil
	}

	asset, isNew, _, err := lp.upsertAsset(ctx, source, listedAt)
	if err != nil {
		return err
	}
	if isNew {
		lp.attachMetadata(ctx, asset, source)
	}

	exists, err := lp.store.ActivityExistsWithinThreshold(ctx, asset.AssetIdx, listingType, *source.Price, *listedAt, listingDedupThreshold)
	if err != nil {
		return err
	}
	if exists {
		stats.Duplicates++
		lp.seen.SetDefault(cacheKey, struct{}{})
		// The listing is already recorded but the asset was sighted again.
		if err := lp.store.TouchAsset(ctx, asset.AssetIdx); err != nil {
			lp.logger.WarnContext(ctx, "failed to touch asset", "asset_id", asset.AssetID, "error", err)
		}
		return nil
	}

	activityIdx, err := lp.store.InsertActivity(ctx, db.InsertActivityParams{
		ActivityTypeIdx: listingType,
		AssetIdx:        asset.AssetIdx,
		Price:           source.Price,
		ActivityDate:    *listedAt,
	})
	if err != nil {
		return err
	}
	stats.NewListings++
	lp.seen.SetDefault(cacheKey, struct{}{})
	if lp.metrics != nil {
		lp.metrics.RecordActivitiesInserted("catalog", 1)
	}
	lp.logger.InfoContext(ctx, "recorded new listing",
		"asset_id", asset.AssetID,
		"name", asset.Name,
		"price", *source.Price,
		"listed_date", listedAt,
	)

	if lp.publisher != nil && lp.now().Sub(*listedAt) <= publishWindow {
		event := &nats.ListingEvent{
			ActivityIdx: activityIdx,
			AssetIdx:    asset.AssetIdx,
			AssetID:     asset.AssetID,
			Name:        asset.Name,
			Price:       source.Price,
			BottledYear: source.BottledYear,
			Age:         source.Age,
			ListedDate:  *listedAt,
		}
		if err := lp.publisher.PublishListing(ctx, event); err != nil {
			lp.logger.WarnContext(ctx, "failed to publish listing event",
				"asset_id", asset.AssetID,
				"error", err,
			)
		} else {
			stats.Published++
		}
	}
	return nil
}

func (lp *ListingProcessor) upsertAsset(ctx context.Context, source catalog.AssetSource, listedAt *time.Time) (*db.Asset, bool, bool, error) {
	assetJSON, err := json.Marshal(source)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode catalog record: %w", err)
	}
	name := source.Name
	if name == "" {
		name = source.AssetAddress
	}
	return lp.store.UpsertAsset(ctx, db.UpsertAssetParams{
		AssetID:     source.AssetAddress,
		CatalogIdx:  &source.ID,
		Name:        name,
		Price:       source.Price,
		BottledYear: source.BottledYear,
		Age:         source.Age,
		IsListed:    source.Price != nil && listedAt != nil,
		ListedDate:  listedAt,
		AssetJSON:   assetJSON,
	})
}

func (lp *ListingProcessor) attachMetadata(ctx context.Context, asset *db.Asset, source catalog.AssetSource) {
	metadataJSON, err := lp.catalog.GetAssetMetadata(ctx, source.ID)
	if err != nil {
		lp.logger.WarnContext(ctx, "failed to fetch asset metadata",
			"asset_id", asset.AssetID,
			"catalog_idx", source.ID,
			"error", err,
		)
		return
	}
	if err := lp.store.InsertAssetJSON(ctx, asset.AssetIdx, asset.AssetJSON, metadataJSON); err != nil {
		lp.logger.WarnContext(ctx, "failed to record asset metadata",
			"asset_id", asset.AssetID,
			"error", err,
		)
	}
}
