package resolve

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caskwatch/caskwatch/service/catalog"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ledger"
)

type fakeStore struct {
	freshIdx     map[string]int64
	upserted     []db.UpsertAssetParams
	metadataJSON [][]byte
	nextIdx      int64
}

func (f *fakeStore) GetAssetIdxFresh(_ context.Context, assetID string, _ time.Time) (*int64, error) {
	if idx, ok := f.freshIdx[assetID]; ok {
		return &idx, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertAsset(_ context.Context, params db.UpsertAssetParams) (*db.Asset, bool, bool, error) {
	f.upserted = append(f.upserted, params)
	f.nextIdx++
	return &db.Asset{
		AssetIdx:  f.nextIdx,
		AssetID:   params.AssetID,
		Name:      params.Name,
		AssetJSON: params.AssetJSON,
	}, true, true, nil
}

func (f *fakeStore) InsertAssetJSON(_ context.Context, _ int64, _, metadataJSON []byte) error {
	f.metadataJSON = append(f.metadataJSON, metadataJSON)
	return nil
}

type fakeCatalog struct {
	hits     map[string]catalog.AssetSource
	metadata []byte
	err      error
	calls    int
}

func (f *fakeCatalog) GetAssetsByAddresses(_ context.Context, addresses []string) ([]catalog.AssetHit, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []catalog.AssetHit
	for _, addr := range addresses {
		if source, ok := f.hits[addr]; ok {
			out = append(out, catalog.AssetHit{Source: source})
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetAssetMetadata(_ context.Context, _ int64) ([]byte, error) {
	if f.metadata == nil {
		return nil, errors.New("no metadata")
	}
	return f.metadata, nil
}

type fakeChain struct {
	assets map[string]*ledger.AssetInfo
	err    error
	calls  int
}

func (f *fakeChain) GetAsset(_ context.Context, assetID string) (*ledger.AssetInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assets[assetID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestResolve_FreshDatabaseRecord(t *testing.T) {
	store := &fakeStore{freshIdx: map[string]int64{"MintA": 17}}
	cat := &fakeCatalog{}
	chain := &fakeChain{}
	r := NewResolver(store, cat, chain, nil, discardLogger(), 0)

	idx, err := r.Resolve(context.Background(), "MintA", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(17), idx)
	assert.Zero(t, cat.calls, "a fresh record should short-circuit the catalog")
	assert.Zero(t, chain.calls)
}

func TestResolve_CatalogHit(t *testing.T) {
	price := 250.0
	listed := "2026-02-01T12:00:00Z"
	store := &fakeStore{}
	cat := &fakeCatalog{
		hits: map[string]catalog.AssetSource{
			"MintB": {ID: 42, AssetAddress: "MintB", Name: "Lagavulin 16", Price: &price, ListedDate: &listed},
		},
		metadata: []byte(`{"name":"Lagavulin 16"}`),
	}
	r := NewResolver(store, cat, &fakeChain{}, nil, discardLogger(), 0)

	idx, err := r.Resolve(context.Background(), "MintB", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)

	require.Len(t, store.upserted, 1)
	params := store.upserted[0]
	assert.Equal(t, "Lagavulin 16", params.Name)
	require.NotNil(t, params.CatalogIdx)
	assert.Equal(t, int64(42), *params.CatalogIdx)
	assert.True(t, params.IsListed)

	require.Len(t, store.metadataJSON, 1, "new assets should get their metadata snapshot")
}

func TestResolve_ChainFallback(t *testing.T) {
	store := &fakeStore{}
	cat := &fakeCatalog{}
	chain := &fakeChain{assets: map[string]*ledger.AssetInfo{
		"MintC": {ID: "MintC", Name: "Mystery Cask"},
	}}
	r := NewResolver(store, cat, chain, nil, discardLogger(), 0)

	idx, err := r.Resolve(context.Background(), "MintC", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)
	assert.Equal(t, 1, cat.calls)
	assert.Equal(t, 1, chain.calls)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Mystery Cask", store.upserted[0].Name)
}

func TestResolve_ChainFallbackOnCatalogError(t *testing.T) {
	store := &fakeStore{}
	cat := &fakeCatalog{err: errors.New("catalog down")}
	chain := &fakeChain{assets: map[string]*ledger.AssetInfo{
		"MintD": {ID: "MintD", Name: "Backup Bottle"},
	}}
	r := NewResolver(store, cat, chain, nil, discardLogger(), 0)

	idx, err := r.Resolve(context.Background(), "MintD", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)
}

func TestResolve_Unresolvable(t *testing.T) {
	r := NewResolver(&fakeStore{}, &fakeCatalog{}, &fakeChain{}, nil, discardLogger(), 0)

	_, err := r.Resolve(context.Background(), "MintGone", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssetUnresolvable)
}

func TestResolve_UnresolvableCached(t *testing.T) {
	cat := &fakeCatalog{}
	chain := &fakeChain{}
	r := NewResolver(&fakeStore{}, cat, chain, nil, discardLogger(), time.Minute)

	_, err := r.Resolve(context.Background(), "MintGone", time.Now())
	require.ErrorIs(t, err, ErrAssetUnresolvable)
	_, err = r.Resolve(context.Background(), "MintGone", time.Now())
	require.ErrorIs(t, err, ErrAssetUnresolvable)

	assert.Equal(t, 1, cat.calls, "second failure should come from the cache")
	assert.Equal(t, 1, chain.calls)
}

func TestResolve_ChainNameFallsBackToAddress(t *testing.T) {
	store := &fakeStore{}
	chain := &fakeChain{assets: map[string]*ledger.AssetInfo{
		"MintE": {ID: "MintE"},
	}}
	r := NewResolver(store, &fakeCatalog{}, chain, nil, discardLogger(), 0)

	_, err := r.Resolve(context.Background(), "MintE", time.Now())
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "MintE", store.upserted[0].Name)
}
