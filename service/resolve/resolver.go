// Package resolve maps ledger asset addresses to internal asset ids,
// consulting the local database first, then the catalog API, then the
// chain itself.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/caskwatch/caskwatch/service/catalog"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ledger"
	"github.com/caskwatch/caskwatch/service/metrics"
)

// ErrAssetUnresolvable indicates the asset could not be identified through
// any source. Activities referencing such assets are excluded from
// persistence and surfaced as errors.
var ErrAssetUnresolvable = errors.New("asset unresolvable")

// AssetStore is the subset of the database store the resolver needs.
type AssetStore interface {
	GetAssetIdxFresh(ctx context.Context, assetID string, freshnessFloor time.Time) (*int64, error)
	UpsertAsset(ctx context.Context, params db.UpsertAssetParams) (*db.Asset, bool, bool, error)
	InsertAssetJSON(ctx context.Context, assetIdx int64, assetJSON, metadataJSON []byte) error
}

// CatalogClient is the subset of the catalog API client the resolver needs.
type CatalogClient interface {
	GetAssetsByAddresses(ctx context.Context, addresses []string) ([]catalog.AssetHit, error)
	GetAssetMetadata(ctx context.Context, catalogIdx int64) ([]byte, error)
}

// ChainClient fetches on-chain asset details, used as a fallback when the
// catalog does not know an address.
type ChainClient interface {
	GetAsset(ctx context.Context, assetID string) (*ledger.AssetInfo, error)
}

// Resolver resolves asset addresses to internal asset ids.
type Resolver struct {
	store   AssetStore
	catalog CatalogClient
	chain   ChainClient
	metrics *metrics.Metrics
	logger  *slog.Logger

	// unresolvable holds addresses that recently failed every source, so
	// repeated activity on a broken asset does not hammer the upstreams.
	unresolvable *gocache.Cache
}

// NewResolver creates a Resolver. A negative-result TTL of zero disables
// the unresolvable cache.
func NewResolver(store AssetStore, catalogClient CatalogClient, chain ChainClient, m *metrics.Metrics, logger *slog.Logger, negativeTTL time.Duration) *Resolver {
	var cache *gocache.Cache
	if negativeTTL > 0 {
		cache = gocache.New(negativeTTL, 2*negativeTTL)
	}
	return &Resolver{
		store:        store,
		catalog:      catalogClient,
		chain:        chain,
		metrics:      m,
		logger:       logger,
		unresolvable: cache,
	}
}

// Resolve returns the internal asset id for a ledger address. The
// freshnessFloor is the most recent activity date observed for the asset
// in the current batch: a stored record counts only if it was updated at
// or after that instant, so stale details get refreshed before new
// activity is attributed to them.
func (r *Resolver) Resolve(ctx context.Context, assetID string, freshnessFloor time.Time) (int64, error) {
	if r.unresolvable != nil {
		if _, found := r.unresolvable.Get(assetID); found {
			r.record("unresolved_cached")
			return 0, fmt.Errorf("%w: %s (cached)", ErrAssetUnresolvable, assetID)
		}
	}

	idx, err := r.store.GetAssetIdxFresh(ctx, assetID, freshnessFloor)
	if err != nil {
		return 0, fmt.Errorf("failed to look up asset %s: %w", assetID, err)
	}
	if idx != nil {
		r.record("db")
		return *idx, nil
	}

	if idx, err := r.resolveFromCatalog(ctx, assetID); err != nil {
		r.logger.WarnContext(ctx, "catalog resolution failed", "asset_id", assetID, "error", err)
	} else if idx != nil {
		r.record("catalog")
		return *idx, nil
	}

	if idx, err := r.resolveFromChain(ctx, assetID); err != nil {
		r.logger.WarnContext(ctx, "chain resolution failed", "asset_id", assetID, "error", err)
	} else if idx != nil {
		r.record("chain")
		return *idx, nil
	}

	if r.unresolvable != nil {
		r.unresolvable.SetDefault(assetID, struct{}{})
	}
	r.record("unresolved")
	return 0, fmt.Errorf("%w: %s", ErrAssetUnresolvable, assetID)
}

func (r *Resolver) resolveFromCatalog(ctx context.Context, assetID string) (*int64, error) {
	hits, err := r.catalog.GetAssetsByAddresses(ctx, []string{assetID})
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		if hit.Source.AssetAddress != assetID {
			continue
		}
		asset, isNew, _, err := r.upsertFromCatalog(ctx, hit.Source)
		if err != nil {
			return nil, err
		}
		if isNew {
			r.attachMetadata(ctx, asset, hit.Source)
		}
		return &asset.AssetIdx, nil
	}
	return nil, nil
}

func (r *Resolver) upsertFromCatalog(ctx context.Context, source catalog.AssetSource) (*db.Asset, bool, bool, error) {
	assetJSON, err := json.Marshal(source)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode catalog record: %w", err)
	}

	name := source.Name
	if name == "" {
		name = source.AssetAddress
	}
	listedDate := source.ListedTime()

	return r.store.UpsertAsset(ctx, db.UpsertAssetParams{
		AssetID:     source.AssetAddress,
		CatalogIdx:  &source.ID,
		Name:        name,
		Price:       source.Price,
		BottledYear: source.BottledYear,
		Age:         source.Age,
		IsListed:    source.Price != nil && listedDate != nil,
		ListedDate:  listedDate,
		AssetJSON:   assetJSON,
	})
}

// attachMetadata fetches and records the off-chain metadata document for a
// newly discovered asset. Failures are logged, never fatal.
func (r *Resolver) attachMetadata(ctx context.Context, asset *db.Asset, source catalog.AssetSource) {
	metadataJSON, err := r.catalog.GetAssetMetadata(ctx, source.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to fetch asset metadata", "asset_id", asset.AssetID, "catalog_idx", source.ID, "error", err)
		return
	}
	if err := r.store.InsertAssetJSON(ctx, asset.AssetIdx, asset.AssetJSON, metadataJSON); err != nil {
		r.logger.WarnContext(ctx, "failed to record asset metadata", "asset_id", asset.AssetID, "error", err)
	}
}

func (r *Resolver) resolveFromChain(ctx context.Context, assetID string) (*int64, error) {
	info, err := r.chain.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}

	name := info.Name
	if name == "" {
		name = assetID
	}
	asset, _, _, err := r.store.UpsertAsset(ctx, db.UpsertAssetParams{
		AssetID: assetID,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	return &asset.AssetIdx, nil
}

func (r *Resolver) record(source string) {
	if r.metrics != nil {
		r.metrics.RecordAssetResolution(source)
	}
}
